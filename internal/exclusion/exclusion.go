package exclusion

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"cryptomovers/internal/upstream"
)

// Set holds lowercase symbols to leave out of rankings. It is read-only once built.
type Set map[string]struct{}

// NewSet builds a Set from symbols in any case.
func NewSet(symbols ...string) Set {
	s := make(Set, len(symbols))
	for _, sym := range symbols {
		s.add(sym)
	}
	return s
}

func (s Set) add(symbol string) {
	symbol = strings.ToLower(strings.TrimSpace(symbol))
	if symbol != "" {
		s[symbol] = struct{}{}
	}
}

// Contains reports whether symbol is excluded, ignoring case.
func (s Set) Contains(symbol string) bool {
	_, ok := s[strings.ToLower(strings.TrimSpace(symbol))]
	return ok
}

// Loader builds a Set from block-list sources. A source is an http(s) URL served by the
// static asset host or a local file path; each holds a JSON array of symbols.
type Loader struct {
	client  *upstream.Client
	sources []string
	extra   []string
}

// NewLoader creates a loader. extra symbols are always part of the result.
func NewLoader(client *upstream.Client, sources []string, extra ...string) *Loader {
	return &Loader{client: client, sources: sources, extra: extra}
}

// Load fetches every source concurrently. A missing or malformed source contributes
// nothing; Load itself never fails.
func (l *Loader) Load(ctx context.Context) Set {
	lists := make([][]string, len(l.sources))

	var g errgroup.Group
	for i, src := range l.sources {
		g.Go(func() error {
			symbols, err := l.fetch(ctx, src)
			if err != nil {
				log.Warn().Err(err).Str("source", src).Msg("skipping exclusion list")
				return nil
			}
			lists[i] = symbols
			return nil
		})
	}
	_ = g.Wait()

	set := NewSet(l.extra...)
	for _, list := range lists {
		for _, sym := range list {
			set.add(sym)
		}
	}
	log.Debug().Int("symbols", len(set)).Int("sources", len(l.sources)).Msg("exclusions loaded")
	return set
}

func (l *Loader) fetch(ctx context.Context, src string) ([]string, error) {
	var symbols []string
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		if l.client == nil {
			return nil, fmt.Errorf("no http client for %s", src)
		}
		if err := l.client.GetJSON(ctx, src, &symbols); err != nil {
			return nil, err
		}
		return symbols, nil
	}

	data, err := os.ReadFile(src)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &symbols); err != nil {
		return nil, fmt.Errorf("parse %s: %w", src, err)
	}
	return symbols, nil
}
