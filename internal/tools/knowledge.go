package tools

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultSearchLimit caps search results when no limit is given.
const DefaultSearchLimit = 5

//go:embed kb.yaml
var defaultArticles []byte

// Article is a knowledge-base entry.
type Article struct {
	ID       string   `yaml:"id" json:"id"`
	Title    string   `yaml:"title" json:"title"`
	Category string   `yaml:"category" json:"category"`
	Content  string   `yaml:"content" json:"content"`
	Tags     []string `yaml:"tags" json:"tags"`
}

// SearchResult is an article annotated with its relevance score.
type SearchResult struct {
	Article
	RelevanceScore int `json:"relevance_score"`
}

type articleFile struct {
	Articles []Article `yaml:"articles"`
}

// KnowledgeBase is an ordered, read-only article table.
type KnowledgeBase struct {
	articles []Article
}

// DefaultKnowledgeBase returns the built-in article table.
func DefaultKnowledgeBase() *KnowledgeBase {
	kb, err := LoadKnowledgeBase(bytes.NewReader(defaultArticles))
	if err != nil {
		panic(fmt.Sprintf("tools: embedded knowledge base: %v", err))
	}
	return kb
}

// LoadKnowledgeBaseFromFile loads articles from a YAML file.
func LoadKnowledgeBaseFromFile(path string) (*KnowledgeBase, error) {
	f, err := os.Open(path) //nolint:gosec // path is operator config
	if err != nil {
		return nil, fmt.Errorf("open knowledge base: %w", err)
	}
	defer func() { _ = f.Close() }()

	return LoadKnowledgeBase(f)
}

// LoadKnowledgeBase decodes articles from YAML. Article order is preserved
// and breaks ties between equally scored search results.
func LoadKnowledgeBase(r io.Reader) (*KnowledgeBase, error) {
	var file articleFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		return nil, fmt.Errorf("parse knowledge base YAML: %w", err)
	}

	seen := make(map[string]struct{}, len(file.Articles))
	for i, a := range file.Articles {
		if a.ID == "" || a.Title == "" {
			return nil, fmt.Errorf("article at index %d: id and title are required", i)
		}
		if _, dup := seen[a.ID]; dup {
			return nil, fmt.Errorf("article at index %d: duplicate id %s", i, a.ID)
		}
		seen[a.ID] = struct{}{}
	}
	return &KnowledgeBase{articles: file.Articles}, nil
}

// Len returns the number of articles.
func (kb *KnowledgeBase) Len() int { return len(kb.articles) }

// Search scores every article against the whitespace-separated words of
// query: +3 when any word occurs in the title, +2 in the content, +1 in
// the tags. Articles scoring zero are dropped. An empty category matches
// all. limit <= 0 means DefaultSearchLimit.
func (kb *KnowledgeBase) Search(query, category string, limit int) []SearchResult {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	words := strings.Fields(strings.ToLower(query))

	var results []SearchResult
	for _, a := range kb.articles {
		if category != "" && a.Category != category {
			continue
		}

		score := 0
		if containsAny(strings.ToLower(a.Title), words) {
			score += 3
		}
		if containsAny(strings.ToLower(a.Content), words) {
			score += 2
		}
		if containsAny(strings.ToLower(strings.Join(a.Tags, " ")), words) {
			score++
		}
		if score > 0 {
			results = append(results, SearchResult{Article: cloneArticle(a), RelevanceScore: score})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].RelevanceScore > results[j].RelevanceScore
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

// Article returns the article with the given id.
func (kb *KnowledgeBase) Article(id string) (Article, bool) {
	for _, a := range kb.articles {
		if a.ID == id {
			return cloneArticle(a), true
		}
	}
	return Article{}, false
}

// ByCategory returns all articles in category, in table order.
func (kb *KnowledgeBase) ByCategory(category string) []Article {
	var out []Article
	for _, a := range kb.articles {
		if a.Category == category {
			out = append(out, cloneArticle(a))
		}
	}
	return out
}

func (kb *KnowledgeBase) Name() string { return "search_knowledge_base" }

func (kb *KnowledgeBase) Description() string {
	return "Search internal knowledge-base articles by keyword, optionally filtered by category."
}

func (kb *KnowledgeBase) Execute(_ context.Context, params json.RawMessage) (json.RawMessage, error) {
	var input struct {
		Query    string `json:"query"`
		Category string `json:"category,omitempty"`
		Limit    int    `json:"limit,omitempty"`
	}
	if err := decodeParams(params, &input); err != nil {
		return nil, err
	}
	if input.Query == "" {
		return nil, errors.New("query is required")
	}

	results := kb.Search(input.Query, input.Category, input.Limit)
	if results == nil {
		results = []SearchResult{}
	}
	return json.Marshal(results)
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func cloneArticle(a Article) Article {
	a.Tags = append([]string(nil), a.Tags...)
	return a
}
