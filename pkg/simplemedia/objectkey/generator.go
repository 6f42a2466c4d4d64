package objectkey

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/tendant/simple-media/pkg/simplemedia"
)

// Default templates. Placeholders: {category}, {owner_id}, {content_id}, {index}, {file}.
const (
	DefaultRawTemplate    = "raw/{category}/{owner_id}/{content_id}/{index}_{file}"
	DefaultOutputTemplate = "processed/{owner_id}/{content_id}/{index}/{file}"
)

// Generator defines the interface for object key generation strategies
type Generator interface {
	// RawKey returns the key a client uploads the index-th raw file of an item to.
	RawKey(item *simplemedia.ContentItem, index int, fileName string) string

	// OutputKey returns the key a produced file of the index-th raw source is stored under.
	OutputKey(item *simplemedia.ContentItem, index int, fileName string) string
}

// TemplateGenerator expands placeholder templates into keys.
// Keys are deterministic in (category, owner, content, index, file).
type TemplateGenerator struct {
	RawTemplate    string
	OutputTemplate string
}

func NewTemplateGenerator(rawTemplate, outputTemplate string) *TemplateGenerator {
	if rawTemplate == "" {
		rawTemplate = DefaultRawTemplate
	}
	if outputTemplate == "" {
		outputTemplate = DefaultOutputTemplate
	}
	return &TemplateGenerator{
		RawTemplate:    rawTemplate,
		OutputTemplate: outputTemplate,
	}
}

// NewDefaultGenerator returns the generator used when nothing is configured
func NewDefaultGenerator() Generator {
	return NewTemplateGenerator(DefaultRawTemplate, DefaultOutputTemplate)
}

func (g *TemplateGenerator) RawKey(item *simplemedia.ContentItem, index int, fileName string) string {
	return expand(g.RawTemplate, item, index, fileName)
}

func (g *TemplateGenerator) OutputKey(item *simplemedia.ContentItem, index int, fileName string) string {
	return expand(g.OutputTemplate, item, index, fileName)
}

func expand(template string, item *simplemedia.ContentItem, index int, fileName string) string {
	ownerID, contentID := uuid.Nil, uuid.Nil
	category := ""
	if item != nil {
		ownerID, contentID, category = item.OwnerID, item.ID, string(item.Category)
	}
	r := strings.NewReplacer(
		"{category}", sanitizePathComponent(category),
		"{owner_id}", ownerID.String(),
		"{content_id}", contentID.String(),
		"{index}", strconv.Itoa(index),
		"{file}", sanitizeFilename(fileName),
	)
	return strings.TrimPrefix(r.Replace(template), "/")
}

// FormatURI builds the canonical s3://bucket/key locator stored as a raw source URL.
func FormatURI(bucket, key string) string {
	return fmt.Sprintf("s3://%s/%s", bucket, strings.TrimPrefix(key, "/"))
}

// ParseURI splits an s3://bucket/key locator.
func ParseURI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", fmt.Errorf("%w: %q", simplemedia.ErrInvalidObjectURI, uri)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("%w: %q", simplemedia.ErrInvalidObjectURI, uri)
	}
	return bucket, key, nil
}

// Helper functions for path sanitization
func sanitizeFilename(filename string) string {
	// Replace problematic characters for filesystem compatibility
	replacer := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
		" ", "_",
	)
	return replacer.Replace(filename)
}

func sanitizePathComponent(component string) string {
	return strings.ToLower(sanitizeFilename(component))
}
