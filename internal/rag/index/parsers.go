package index

import (
	"sync"

	"github.com/kestrelai/conductor/internal/rag/parser/markdown"
	"github.com/kestrelai/conductor/internal/rag/parser/text"
)

var registerParsersOnce sync.Once

func ensureDefaultParsers() {
	registerParsersOnce.Do(func() {
		markdown.Register()
		text.Register()
	})
}
