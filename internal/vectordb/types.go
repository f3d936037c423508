package vectordb

import (
	"fmt"
	"time"
)

// Config controls Qdrant client behavior
type Config struct {
	// URL overrides Host/Port when set (e.g. http://qdrant:6333)
	URL     string        `mapstructure:"url"`
	Host    string        `mapstructure:"host"`
	Port    int           `mapstructure:"port"`
	APIKey  string        `mapstructure:"api_key"`
	TopK    int           `mapstructure:"top_k"`
	Timeout time.Duration `mapstructure:"timeout"`
	// ExpectedEmbeddingDim is checked by ValidateEmbeddingDimensions when > 0
	ExpectedEmbeddingDim int `mapstructure:"expected_embedding_dim"`
}

// Point is a stored vector point as returned by search or scroll
type Point struct {
	ID      interface{}            `json:"id"`
	Score   float64                `json:"score,omitempty"`
	Payload map[string]interface{} `json:"payload"`
}

// Filter is a Qdrant filter document, e.g. {"must": [...]}
type Filter map[string]interface{}

// MatchFilter builds a filter requiring payload[key] == value
func MatchFilter(key string, value interface{}) Filter {
	return Filter{
		"must": []map[string]interface{}{
			{"key": key, "match": map[string]interface{}{"value": value}},
		},
	}
}

// CollectionInfo holds basic information about a Qdrant collection
type CollectionInfo struct {
	Name        string
	Status      string
	VectorSize  int
	PointsCount int64
}

// DimensionMismatchError is returned when embedding dimensions don't match collection dimensions
type DimensionMismatchError struct {
	Collection        string
	ExpectedDimension int
	ReceivedDimension int
}

func (e DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch for collection %s: expected %d, got %d",
		e.Collection, e.ExpectedDimension, e.ReceivedDimension)
}
