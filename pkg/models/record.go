package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Property type discriminators used by the workspace content API.
const (
	PropertyTypeTitle       = "title"
	PropertyTypeRichText    = "rich_text"
	PropertyTypeEmail       = "email"
	PropertyTypeURL         = "url"
	PropertyTypePhoneNumber = "phone_number"
	PropertyTypeSelect      = "select"
	PropertyTypeMultiSelect = "multi_select"
	PropertyTypeNumber      = "number"
	PropertyTypeCheckbox    = "checkbox"
	PropertyTypeDate        = "date"
)

// SourceRecord is a page-style record returned by the workspace content API.
type SourceRecord struct {
	ID             string                   `json:"id"`
	Parent         RecordParent             `json:"parent"`
	Archived       bool                     `json:"archived"`
	InTrash        bool                     `json:"in_trash"`
	CreatedTime    Timestamp                `json:"created_time"`
	LastEditedTime Timestamp                `json:"last_edited_time"`
	Properties     map[string]PropertyValue `json:"properties"`
	URL            string                   `json:"url,omitempty"`
}

// RecordParent identifies the container a record belongs to.
type RecordParent struct {
	Type         string `json:"type,omitempty"`
	CollectionID string `json:"collection_id,omitempty"`
}

// CollectionID returns the id of the collection the record lives in.
func (r *SourceRecord) CollectionID() string {
	return r.Parent.CollectionID
}

// IsGone reports whether the source considers the record removed. Archived
// and trashed records are treated the same as a 404.
func (r *SourceRecord) IsGone() bool {
	return r.Archived || r.InTrash
}

// Property returns the named property, matched case-insensitively.
func (r *SourceRecord) Property(name string) *PropertyValue {
	for key, value := range r.Properties {
		if strings.EqualFold(key, name) {
			return &value
		}
	}
	return nil
}

// TitleText returns the record's title property as plain text.
func (r *SourceRecord) TitleText() string {
	for _, name := range r.sortedPropertyNames() {
		p := r.Properties[name]
		if p.Type == PropertyTypeTitle {
			return p.PlainText()
		}
	}
	return ""
}

// EmailText returns the record's contact email. A property named
// "Contact Email" wins; otherwise the first email-typed property with a
// value is used.
func (r *SourceRecord) EmailText() string {
	if p := r.Property("contact email"); p != nil && p.Type == PropertyTypeEmail {
		if v := p.PlainText(); v != "" {
			return v
		}
	}
	for _, name := range r.sortedPropertyNames() {
		p := r.Properties[name]
		if p.Type == PropertyTypeEmail {
			if v := p.PlainText(); v != "" {
				return v
			}
		}
	}
	return ""
}

// ProductsServicesText returns the record's products/services description,
// taken from the first property whose name mentions products or services.
func (r *SourceRecord) ProductsServicesText() string {
	for _, name := range r.sortedPropertyNames() {
		lower := strings.ToLower(name)
		if strings.Contains(lower, "product") || strings.Contains(lower, "service") {
			if v := r.Properties[name].PlainText(); v != "" {
				return v
			}
		}
	}
	return ""
}

func (r *SourceRecord) sortedPropertyNames() []string {
	names := make([]string, 0, len(r.Properties))
	for name := range r.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PropertyValue is a tagged union over the property types the source API
// emits. Only the field matching Type is populated; unknown types are
// tolerated and extract to the empty string.
type PropertyValue struct {
	Type        string         `json:"type"`
	Title       []RichTextSpan `json:"title,omitempty"`
	RichText    []RichTextSpan `json:"rich_text,omitempty"`
	Email       *string        `json:"email,omitempty"`
	URL         *string        `json:"url,omitempty"`
	PhoneNumber *string        `json:"phone_number,omitempty"`
	Select      *SelectOption  `json:"select,omitempty"`
	MultiSelect []SelectOption `json:"multi_select,omitempty"`
	Number      *float64       `json:"number,omitempty"`
	Checkbox    *bool          `json:"checkbox,omitempty"`
	Date        *DateValue     `json:"date,omitempty"`
}

// RichTextSpan is one fragment of a rich text or title value.
type RichTextSpan struct {
	PlainText string  `json:"plain_text"`
	Href      *string `json:"href,omitempty"`
}

// SelectOption is a select or multi-select choice.
type SelectOption struct {
	Name string `json:"name"`
}

// DateValue is a date property value. Start and End keep the source's
// string encoding because values may be date-only or full timestamps.
type DateValue struct {
	Start string  `json:"start"`
	End   *string `json:"end,omitempty"`
}

// PlainText extracts the property's value as a plain string.
func (p *PropertyValue) PlainText() string {
	switch p.Type {
	case PropertyTypeTitle:
		return joinSpans(p.Title)
	case PropertyTypeRichText:
		return joinSpans(p.RichText)
	case PropertyTypeEmail:
		if p.Email != nil {
			return *p.Email
		}
	case PropertyTypeURL:
		if p.URL != nil {
			return *p.URL
		}
	case PropertyTypePhoneNumber:
		if p.PhoneNumber != nil {
			return *p.PhoneNumber
		}
	case PropertyTypeSelect:
		if p.Select != nil {
			return p.Select.Name
		}
	case PropertyTypeMultiSelect:
		names := make([]string, 0, len(p.MultiSelect))
		for _, opt := range p.MultiSelect {
			names = append(names, opt.Name)
		}
		return strings.Join(names, ", ")
	case PropertyTypeNumber:
		if p.Number != nil {
			return strconv.FormatFloat(*p.Number, 'f', -1, 64)
		}
	case PropertyTypeCheckbox:
		if p.Checkbox != nil {
			return strconv.FormatBool(*p.Checkbox)
		}
	case PropertyTypeDate:
		if p.Date != nil {
			return p.Date.Start
		}
	}
	return ""
}

func joinSpans(spans []RichTextSpan) string {
	var b strings.Builder
	for _, span := range spans {
		b.WriteString(span.PlainText)
	}
	return b.String()
}

// Timestamp accepts both RFC3339 strings and epoch values, the two encodings
// the source API uses depending on the surface. Marshals back as RFC3339.
type Timestamp struct {
	time.Time
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.Format(time.RFC3339))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == `""` {
		t.Time = time.Time{}
		return nil
	}

	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		parsed, err := time.Parse(time.RFC3339, str)
		if err != nil {
			// date properties carry date-only values
			parsed, err = time.Parse("2006-01-02", str)
			if err != nil {
				return fmt.Errorf("invalid timestamp %q", str)
			}
		}
		t.Time = parsed
		return nil
	}

	var epoch int64
	if err := json.Unmarshal(data, &epoch); err != nil {
		return err
	}
	// Values this large can only be milliseconds
	if epoch > 1e12 {
		t.Time = time.UnixMilli(epoch).UTC()
	} else {
		t.Time = time.Unix(epoch, 0).UTC()
	}
	return nil
}
