package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Vcon is a conversation record: an ordered set of dialog entries plus the
// analysis and attachments produced while it moves through the pipeline.
// Identity is the UUID; the record is always read, modified, and written back
// wholesale (last writer wins).
type Vcon struct {
	UUID        string       `json:"uuid"`
	Vcon        string       `json:"vcon,omitempty"` // format version
	Subject     string       `json:"subject,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	Parties     []Party      `json:"parties,omitempty"`
	Dialog      []Dialog     `json:"dialog,omitempty"`
	Analysis    []Analysis   `json:"analysis,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

type Party struct {
	Tel    string `json:"tel,omitempty"`
	Mailto string `json:"mailto,omitempty"`
	Name   string `json:"name,omitempty"`
	Role   string `json:"role,omitempty"`
}

type Dialog struct {
	Type     string    `json:"type"` // "recording" | "text"
	Start    time.Time `json:"start,omitempty"`
	Duration float64   `json:"duration,omitempty"`
	Parties  []int     `json:"parties,omitempty"`
	MimeType string    `json:"mimetype,omitempty"`
	URL      string    `json:"url,omitempty"`
	Body     string    `json:"body,omitempty"`
}

// Analysis is the output of one processing stage, tied to a dialog entry.
type Analysis struct {
	Type     string `json:"type"` // "transcript" | "summary" | ...
	Dialog   int    `json:"dialog"`
	Vendor   string `json:"vendor,omitempty"`
	Schema   string `json:"schema,omitempty"`
	Body     any    `json:"body,omitempty"`
	Encoding string `json:"encoding,omitempty"`
}

type Attachment struct {
	Type     string `json:"type"`
	Body     any    `json:"body,omitempty"`
	Encoding string `json:"encoding,omitempty"`
}

const vconVersion = "0.0.1"

// NewVcon creates an empty record with a generated UUID.
func NewVcon() *Vcon {
	now := time.Now().UTC()
	return &Vcon{
		UUID:      uuid.NewString(),
		Vcon:      vconVersion,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (v *Vcon) AddDialog(d Dialog) {
	v.Dialog = append(v.Dialog, d)
	v.UpdatedAt = time.Now().UTC()
}

func (v *Vcon) AddAnalysis(a Analysis) {
	v.Analysis = append(v.Analysis, a)
	v.UpdatedAt = time.Now().UTC()
}

func (v *Vcon) AddAttachment(a Attachment) {
	v.Attachments = append(v.Attachments, a)
	v.UpdatedAt = time.Now().UTC()
}

// FindAnalysis returns the first analysis of the given type for the given
// dialog index, or nil.
func (v *Vcon) FindAnalysis(analysisType string, dialog int) *Analysis {
	for i := range v.Analysis {
		if v.Analysis[i].Type == analysisType && v.Analysis[i].Dialog == dialog {
			return &v.Analysis[i]
		}
	}
	return nil
}

const tagsAttachmentType = "tags"

// Tags returns the record's tag list from its tags attachment, if any.
func (v *Vcon) Tags() []string {
	for i := range v.Attachments {
		if v.Attachments[i].Type != tagsAttachmentType {
			continue
		}
		switch body := v.Attachments[i].Body.(type) {
		case []string:
			return body
		case []any:
			tags := make([]string, 0, len(body))
			for _, t := range body {
				if s, ok := t.(string); ok {
					tags = append(tags, s)
				}
			}
			return tags
		}
	}
	return nil
}

// AddTag appends a "name:value" tag, creating the tags attachment on first
// use. Adding the same tag twice is a no-op.
func (v *Vcon) AddTag(name, value string) {
	tag := name + ":" + value
	for i := range v.Attachments {
		if v.Attachments[i].Type != tagsAttachmentType {
			continue
		}
		existing := v.Tags()
		for _, t := range existing {
			if t == tag {
				return
			}
		}
		v.Attachments[i].Body = append(existing, tag)
		v.UpdatedAt = time.Now().UTC()
		return
	}
	v.AddAttachment(Attachment{Type: tagsAttachmentType, Body: []string{tag}})
}

// Hash returns the hex SHA-256 of the record's canonical JSON encoding.
func (v *Vcon) Hash() string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
