package stage

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/metriport/metriport-sub005/internal/coreapi"
)

// Mode selects how rows move between stages
type Mode string

const (
	ModeDirect Mode = "direct"
	ModeQueued Mode = "queued"
)

// Chunking controls how the importer fans rows out to the create stage
type Chunking struct {
	Size  int
	Delay time.Duration
}

// DefaultChunking is the fan-out used in direct mode
func DefaultChunking() Chunking {
	return Chunking{Size: 5, Delay: 20 * time.Millisecond}
}

// Deps are the collaborators of the stage processors
type Deps struct {
	Store     JobStore
	API       coreapi.API
	Poller    Poller
	Params    ParamsSource
	Recorder  Recorder
	Tracker   Tracker
	Publisher Publisher

	CreateRoutingKey string
	QueryRoutingKey  string

	Logger *slog.Logger
}

// Pipeline is the stage chain for one deployment mode. Create and Query are the entry points;
// the processors are what queue consumers run.
type Pipeline struct {
	Mode            Mode
	Create          CreateHandler
	Query           QueryHandler
	CreateProcessor *CreateProcessor
	QueryProcessor  *QueryProcessor
	Chunk           Chunking
}

// NewPipeline wires the stage strategies for mode
func NewPipeline(mode Mode, chunk Chunking, deps Deps) (*Pipeline, error) {
	if chunk.Size <= 0 {
		chunk.Size = DefaultChunking().Size
	}
	if chunk.Delay < 0 {
		chunk.Delay = 0
	}

	queryProcessor := NewQueryProcessor(deps.Store, deps.Poller, deps.Params, deps.Recorder, deps.Tracker, deps.Logger)
	p := &Pipeline{Mode: mode, QueryProcessor: queryProcessor}

	switch mode {
	case ModeDirect:
		p.Query = NewDirectQueryHandler(queryProcessor, deps.Logger)
		p.CreateProcessor = NewCreateProcessor(deps.Store, deps.API, p.Query, deps.Recorder, deps.Tracker, deps.Logger)
		p.Create = NewDirectCreateHandler(p.CreateProcessor, deps.Logger)
		p.Chunk = chunk
	case ModeQueued:
		if deps.Publisher == nil {
			return nil, errors.New("queued mode requires a publisher")
		}
		if deps.CreateRoutingKey == "" || deps.QueryRoutingKey == "" {
			return nil, errors.New("queued mode requires create and query routing keys")
		}
		p.Query = NewQueuedQueryHandler(deps.Publisher, deps.QueryRoutingKey)
		p.CreateProcessor = NewCreateProcessor(deps.Store, deps.API, p.Query, deps.Recorder, deps.Tracker, deps.Logger)
		p.Create = NewQueuedCreateHandler(deps.Publisher, deps.CreateRoutingKey)
		p.Chunk = Chunking{Size: chunk.Size}
	default:
		return nil, fmt.Errorf("unknown execution mode %q", mode)
	}

	return p, nil
}
