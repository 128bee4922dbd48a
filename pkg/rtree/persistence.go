package rtree

import (
	"encoding/gob"
	"fmt"
	"os"

	"github.com/kass/geo-compliance/pkg/models"
)

// IndexData represents the serializable form of the plot index
type IndexData struct {
	Boundaries []*models.AllotmentBoundary `json:"boundaries"`
	Count      int64                       `json:"count"`
}

// SaveToFile saves the indexed boundaries to a binary file
func (p *PlotIndex) SaveToFile(filename string) error {
	data := IndexData{
		Boundaries: p.all(),
		Count:      p.itemCount.Load(),
	}

	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	encoder := gob.NewEncoder(file)
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	return nil
}

// LoadFromFile loads the index from a binary file
func (p *PlotIndex) LoadFromFile(filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	var data IndexData
	decoder := gob.NewDecoder(file)
	if err := decoder.Decode(&data); err != nil {
		return fmt.Errorf("failed to decode data: %w", err)
	}

	// Clear existing index and rebuild
	p.Clear()
	p.IndexBoundaries(data.Boundaries)

	return nil
}
