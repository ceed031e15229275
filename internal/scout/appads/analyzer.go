package appads

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"go.uber.org/zap"

	"github.com/adscout/engine/pkg/types"
)

// ErrMemoryExceeded aborts an analysis when worker heap usage crosses the
// critical watermark.
var ErrMemoryExceeded = errors.New("analysis aborted: worker memory exceeded")

const (
	defaultChunkSize = 2000
	defaultCap       = 1000
	minCap           = 500
	maxCap           = 2000

	// gcHintEvery is how many chunks pass between garbage collection
	// hints while heap usage sits above the warning watermark.
	gcHintEvery = 16
)

// Config bounds the analyzer's memory behavior. Zero values fall back to
// the package defaults.
type Config struct {
	ChunkSize int

	DefaultCap int
	MinCap     int
	MaxCap     int

	MemoryWarningBytes  uint64
	MemoryHighBytes     uint64
	MemoryCriticalBytes uint64
}

// ProgressFunc receives per-chunk progress while an analysis runs.
// stage is "analyzing", "memory_warning" or "memory_high".
type ProgressFunc func(stage string, processedLines, totalLines int)

// Result is a completed analysis.
type Result struct {
	Analyzed types.AnalyzedAppAds
	Search   *types.SearchResults
}

// Analyzer runs chunked app-ads.txt analysis. Safe for concurrent use.
type Analyzer struct {
	cfg    Config
	logger *zap.Logger

	heapUsage func() uint64
}

// NewAnalyzer creates an analyzer, filling config defaults.
func NewAnalyzer(cfg Config, logger *zap.Logger) *Analyzer {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkSize
	}
	if cfg.DefaultCap <= 0 {
		cfg.DefaultCap = defaultCap
	}
	if cfg.MinCap <= 0 {
		cfg.MinCap = minCap
	}
	if cfg.MaxCap <= 0 {
		cfg.MaxCap = maxCap
	}
	return &Analyzer{
		cfg:       cfg,
		logger:    logger,
		heapUsage: heapAlloc,
	}
}

func heapAlloc() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.HeapAlloc
}

// adaptiveCap sizes the match cap from current heap headroom: plenty of
// room doubles the default, pressure halves it.
func (a *Analyzer) adaptiveCap() int {
	if a.cfg.MemoryWarningBytes == 0 || a.cfg.MemoryHighBytes == 0 {
		return a.cfg.DefaultCap
	}
	heap := a.heapUsage()
	switch {
	case heap >= a.cfg.MemoryHighBytes:
		return a.cfg.MinCap
	case heap <= a.cfg.MemoryWarningBytes/2:
		return a.cfg.MaxCap
	default:
		return a.cfg.DefaultCap
	}
}

type analysisState struct {
	stats      types.AnalyzedAppAds
	publishers map[string]struct{}

	query        *compiledQuery
	matchCap     int
	perTerm      []types.TermResult
	union        []types.TermMatch
	totalMatches int
}

// Analyze parses a document, computes summary statistics and evaluates
// the optional search query. progress may be nil. Chunk failures are
// isolated: the chunk's lines count as invalid and processing continues.
func (a *Analyzer) Analyze(ctx context.Context, body string, terms []types.SearchTerm, progress ProgressFunc) (*Result, error) {
	lines := SplitLines(body)
	total := len(lines)

	state := &analysisState{
		publishers: make(map[string]struct{}),
		query:      compileQuery(terms),
		matchCap:   a.adaptiveCap(),
	}
	if state.query != nil {
		state.perTerm = make([]types.TermResult, len(terms))
		for i := range state.perTerm {
			state.perTerm[i].Term = terms[i].Label()
			state.perTerm[i].Matches = []types.TermMatch{}
		}
		state.union = []types.TermMatch{}
	}

	for chunkIdx, start := 0, 0; start < total; chunkIdx, start = chunkIdx+1, start+a.cfg.ChunkSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := start + a.cfg.ChunkSize
		if end > total {
			end = total
		}
		a.processChunk(state, lines[start:end], start)

		if err := a.checkMemory(chunkIdx, end, total, progress); err != nil {
			return nil, err
		}
		if progress != nil {
			progress("analyzing", end, total)
		}
	}

	state.stats.TotalLines = total
	state.stats.UniquePublishers = len(state.publishers)

	result := &Result{Analyzed: state.stats}
	if state.query != nil {
		result.Search = &types.SearchResults{
			Terms:   state.query.labels(),
			PerTerm: state.perTerm,
			Matches: state.union,
			Count:   len(state.union),
			Total:   state.totalMatches,
		}
		if state.totalMatches > len(state.union) {
			result.Search.Truncated = true
			result.Search.Cap = state.matchCap
		}
	}
	return result, nil
}

// processChunk parses and scores one chunk. A panic inside the chunk is
// contained: its lines count as invalid and the next chunk proceeds.
func (a *Analyzer) processChunk(state *analysisState, chunk []string, offset int) {
	defer func() {
		if r := recover(); r != nil {
			state.stats.InvalidLines += len(chunk)
			a.logger.Warn("Analysis chunk failed, skipping",
				zap.Int("offset", offset),
				zap.Int("chunk_lines", len(chunk)),
				zap.Any("panic", r))
		}
	}()

	for i, raw := range chunk {
		line := ParseLine(offset+i+1, raw)

		switch line.Kind {
		case LineEmpty:
			state.stats.EmptyLines++
		case LineComment:
			state.stats.CommentLines++
		case LineInvalid:
			state.stats.InvalidLines++
		case LineValid:
			state.stats.ValidLines++
			state.publishers[line.Domain] = struct{}{}
			switch line.Relationship {
			case RelationshipDirect:
				state.stats.Relationships.Direct++
			case RelationshipReseller:
				state.stats.Relationships.Reseller++
			default:
				state.stats.Relationships.Other++
			}
		}

		if state.query == nil || line.Kind == LineEmpty {
			continue
		}
		a.scoreLine(state, &line)
	}
}

func (a *Analyzer) scoreLine(state *analysisState, line *Line) {
	union, perTerm := state.query.matchLine(line)

	for i, hit := range perTerm {
		if !hit {
			continue
		}
		state.perTerm[i].Count++
		if len(state.perTerm[i].Matches) < state.matchCap {
			state.perTerm[i].Matches = append(state.perTerm[i].Matches, types.TermMatch{
				TermIndex:  i,
				LineNumber: line.Number,
				Line:       line.Raw,
			})
		}
	}

	if !union {
		return
	}
	state.totalMatches++
	if len(state.union) < state.matchCap {
		firstTerm := 0
		for i, hit := range perTerm {
			if hit {
				firstTerm = i
				break
			}
		}
		state.union = append(state.union, types.TermMatch{
			TermIndex:  firstTerm,
			LineNumber: line.Number,
			Line:       line.Raw,
		})
	}
}

// checkMemory enforces the worker watermarks between chunks.
func (a *Analyzer) checkMemory(chunkIdx, processed, total int, progress ProgressFunc) error {
	if a.cfg.MemoryCriticalBytes == 0 {
		return nil
	}

	heap := a.heapUsage()
	switch {
	case heap >= a.cfg.MemoryCriticalBytes:
		a.logger.Error("Worker heap crossed critical watermark, aborting analysis",
			zap.Uint64("heap_bytes", heap),
			zap.Uint64("critical_bytes", a.cfg.MemoryCriticalBytes))
		return fmt.Errorf("%w: heap %d bytes", ErrMemoryExceeded, heap)
	case heap >= a.cfg.MemoryHighBytes:
		if progress != nil {
			progress("memory_high", processed, total)
		}
		runtime.GC()
	case heap >= a.cfg.MemoryWarningBytes:
		if progress != nil {
			progress("memory_warning", processed, total)
		}
		if chunkIdx%gcHintEvery == gcHintEvery-1 {
			runtime.GC()
		}
	}
	return nil
}
