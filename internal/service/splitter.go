package service

import (
	"log"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/cloo-solutions/docqa/internal/domain"
	"github.com/cloo-solutions/docqa/internal/extract"
)

// SplitConfig controls how extracted pages are cut into chunks.
type SplitConfig struct {
	MaxChars int
}

// DefaultSplitConfig provides sane defaults for splitting.
func DefaultSplitConfig() SplitConfig {
	return SplitConfig{MaxChars: 2000}
}

var paragraphBreak = regexp.MustCompile(`\n[ \t]*\n+`)

// SplitPages cuts per-page text into paragraph-aligned chunks. Chunks never
// span pages, so every chunk carries the page number of its source text.
// Chunk indexes are dense and global across the whole document.
func SplitPages(pages []extract.Page, cfg SplitConfig) []domain.ChunkPayload {
	if cfg.MaxChars <= 0 {
		cfg = DefaultSplitConfig()
	}

	chunks := make([]domain.ChunkPayload, 0, len(pages))
	index := 0
	for _, page := range pages {
		for _, content := range splitPageText(page.Text, cfg.MaxChars) {
			chunks = append(chunks, domain.ChunkPayload{
				PageNumber: page.Number,
				ChunkIndex: index,
				Content:    content,
			})
			index++
		}
	}
	return chunks
}

// splitPageText packs whole paragraphs greedily into chunks of at most
// maxChars. A single paragraph longer than maxChars is emitted whole rather
// than being cut mid-sentence.
func splitPageText(text string, maxChars int) []string {
	clean := strings.TrimSpace(strings.ReplaceAll(text, "\r\n", "\n"))
	if clean == "" {
		return nil
	}

	paragraphs := make([]string, 0, 8)
	for _, p := range paragraphBreak.Split(clean, -1) {
		p = strings.TrimSpace(p)
		if p != "" {
			paragraphs = append(paragraphs, p)
		}
	}

	chunks := make([]string, 0, len(paragraphs))
	var current []string
	currentLen := 0

	flush := func() {
		if len(current) > 0 {
			chunks = append(chunks, strings.Join(current, "\n\n"))
			current = current[:0]
			currentLen = 0
		}
	}

	for _, p := range paragraphs {
		plen := utf8.RuneCountInString(p)

		if plen > maxChars {
			flush()
			log.Printf("Keeping oversize paragraph whole (%d chars, max %d)", plen, maxChars)
			chunks = append(chunks, p)
			continue
		}

		joined := currentLen + plen
		if len(current) > 0 {
			joined += 2
		}
		if joined > maxChars {
			flush()
			joined = plen
		}

		current = append(current, p)
		currentLen = joined
	}
	flush()

	return chunks
}
