package model

import "strings"

const (
	CaseKindRepair  = "repair"
	CaseKindArticle = "article"
)

type CaseRecord struct {
	SourceKey    string    `json:"source_key"`
	DisplayLabel string    `json:"display_label"`
	DeviceBrand  string    `json:"device_brand"`
	DeviceModel  string    `json:"device_model"`
	ContentText  string    `json:"content_text"`
	ContentHash  string    `json:"content_hash"`
	Embedding    []float32 `json:"-"`
	Ctime        int64     `json:"ctime"`
	Mtime        int64     `json:"mtime"`
}

// Kind reports whether the record came from a repair ticket or an article,
// based on the source key prefix.
func (c *CaseRecord) Kind() string {
	if strings.HasPrefix(c.SourceKey, CaseKindArticle+":") {
		return CaseKindArticle
	}
	return CaseKindRepair
}

func (c *CaseRecord) Device() string {
	return strings.TrimSpace(strings.Join([]string{c.DeviceBrand, c.DeviceModel}, " "))
}

type ScoredCase struct {
	CaseRecord
	Score float32 `json:"score"`
}
