package docstore

import (
	"encoding/json"
	"io"
	"net/http"
)

type documentRecord struct {
	Name         string `json:"name"`
	IsIncomplete bool   `json:"isIncomplete"`
	ContentSize  int64  `json:"contentSize"`
	ModifiedAt   string `json:"ars_modifiedAt"`
	CreatedAt    string `json:"ars_createdAt"`
}

func decodeMetadata(resp *http.Response, name string) (Metadata, error) {
	var records []documentRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return Metadata{}, err
	}
	if len(records) == 0 {
		return Metadata{Name: name, IsIncomplete: true}, nil
	}

	r := records[0]
	return Metadata{
		Name:         r.Name,
		IsIncomplete: r.IsIncomplete,
		ContentSize:  r.ContentSize,
		ModifiedAt:   r.ModifiedAt,
		CreatedAt:    r.CreatedAt,
	}, nil
}

func readBody(resp *http.Response) ([]byte, error) {
	return io.ReadAll(resp.Body)
}
