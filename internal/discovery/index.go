// Package discovery implements the tool index backing the smart_discovery
// router arm (spec §4.D): a full-text index over tool name/description/
// parameters that resolves a natural-language request to a real tool name
// and argument map, or reports that it couldn't.
package discovery

import (
	"fmt"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"go.uber.org/zap"

	"github.com/mcpgateway/gateway/internal/protocol"
)

// document is one indexed tool (field shape grounded on the teacher's
// ToolDocument, trimmed to what smart_discovery actually needs).
type document struct {
	ToolName       string `json:"tool_name"`
	Description    string `json:"description"`
	ParamsJSON     string `json:"params_json"`
	SearchableText string `json:"searchable_text"`
}

// Index is an in-memory full-text index over the registry's current tool
// set. It holds no persistent state (spec Non-goal: no persistent storage);
// Reindex is meant to be wired as the registry's EnhancementCallback so the
// index always reflects the live tool set.
type Index struct {
	logger *zap.Logger

	mu  sync.RWMutex
	idx bleve.Index
}

// New builds an empty in-memory index.
func New(logger *zap.Logger) (*Index, error) {
	idx, err := bleve.NewMemOnly(buildMapping())
	if err != nil {
		return nil, fmt.Errorf("creating tool index: %w", err)
	}
	return &Index{logger: logger, idx: idx}, nil
}

func buildMapping() *bleve.IndexMapping {
	mapping := bleve.NewIndexMapping()
	toolMapping := bleve.NewDocumentMapping()

	nameField := bleve.NewTextFieldMapping()
	nameField.Analyzer = keyword.Name
	toolMapping.AddFieldMappingsAt("tool_name", nameField)

	descField := bleve.NewTextFieldMapping()
	descField.Analyzer = standard.Name
	toolMapping.AddFieldMappingsAt("description", descField)

	paramsField := bleve.NewTextFieldMapping()
	paramsField.Analyzer = standard.Name
	toolMapping.AddFieldMappingsAt("params_json", paramsField)

	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = standard.Name
	toolMapping.AddFieldMappingsAt("searchable_text", textField)

	mapping.AddDocumentMapping("tool", toolMapping)
	mapping.DefaultMapping = toolMapping
	return mapping
}

// defaultSearchLimit mirrors the teacher's "limit to 5" convention for
// natural-language tool search.
const defaultSearchLimit = 5

func toDocument(td *protocol.ToolDefinition) document {
	params := ""
	if len(td.InputSchema) > 0 {
		params = string(td.InputSchema)
	}
	return document{
		ToolName:    td.Name,
		Description: td.Description,
		ParamsJSON:  params,
		SearchableText: strings.Join([]string{
			td.Name, td.Description, params,
		}, " "),
	}
}

// IndexTool adds or replaces one tool's document.
func (i *Index) IndexTool(td *protocol.ToolDefinition) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.idx.Index(td.Name, toDocument(td))
}

// DeleteTool removes a tool's document, a no-op if it was never indexed.
func (i *Index) DeleteTool(name string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.idx.Delete(name)
}

// Reindex replaces the entire index contents with tools, matching the
// registry.EnhancementCallback signature so it can be wired directly via
// Registry.SetEnhancementCallback.
func (i *Index) Reindex(tools []*protocol.ToolDefinition) {
	i.mu.Lock()
	defer i.mu.Unlock()

	fresh, err := bleve.NewMemOnly(buildMapping())
	if err != nil {
		i.logger.Error("failed to rebuild tool index", zap.Error(err))
		return
	}
	batch := fresh.NewBatch()
	for _, td := range tools {
		if td.Hidden || !td.Enabled {
			continue
		}
		if err := batch.Index(td.Name, toDocument(td)); err != nil {
			i.logger.Warn("failed to batch-index tool", zap.String("tool", td.Name), zap.Error(err))
		}
	}
	if err := fresh.Batch(batch); err != nil {
		i.logger.Error("failed to apply tool index batch", zap.Error(err))
		return
	}

	stale := i.idx
	i.idx = fresh
	_ = stale.Close()
	i.logger.Debug("rebuilt tool index", zap.Int("tools", len(tools)))
}

// SearchResult is one scored match.
type SearchResult struct {
	ToolName string
	Score    float64
}

// Search runs a boosted multi-strategy query (exact name, prefix, full text)
// over the index and returns up to limit results ordered by score
// descending, grounded on the teacher's SearchTools boosting scheme.
func (i *Index) Search(query string, limit int) ([]SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("search query cannot be empty")
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	bq := bleve.NewBooleanQuery()

	exact := bleve.NewTermQuery(query)
	exact.SetField("tool_name")
	exact.SetBoost(5.0)
	bq.AddShould(exact)

	prefix := bleve.NewPrefixQuery(query)
	prefix.SetField("tool_name")
	prefix.SetBoost(3.0)
	bq.AddShould(prefix)

	text := bleve.NewMatchQuery(query)
	text.SetBoost(1.0)
	bq.AddShould(text)

	searchable := bleve.NewMatchQuery(query)
	searchable.SetField("searchable_text")
	searchable.SetBoost(1.5)
	bq.AddShould(searchable)

	req := bleve.NewSearchRequest(bq)
	req.Size = limit

	i.mu.RLock()
	res, err := i.idx.Search(req)
	i.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("tool index search: %w", err)
	}

	out := make([]SearchResult, 0, len(res.Hits))
	for _, hit := range res.Hits {
		out = append(out, SearchResult{ToolName: hit.ID, Score: hit.Score})
	}
	return out, nil
}

// Close releases the underlying index.
func (i *Index) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.idx.Close()
}
