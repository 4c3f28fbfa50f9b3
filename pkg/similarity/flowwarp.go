package similarity

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cyclopcam/propeval/pkg/flow"
	"github.com/cyclopcam/propeval/pkg/nn"
	"github.com/cyclopcam/propeval/pkg/proposals"
)

var ErrMissingFlow = errors.New("missing optical flow")

// Flow files are named <frame>.png or <frame>.flo, and hold the flow from
// that frame to the next frame in the directory.
var flowExtensions = []string{".png", ".flo"}

// FlowWarp moves the left box into the right frame using dense optical flow,
// and picks the right proposal that overlaps the moved box the most.
type FlowWarp struct {
	opts   Options
	fields *fieldCache

	listLock sync.Mutex
	listings map[string]map[string]string // dir -> frame -> filename
}

func NewFlowWarp(opts Options) *FlowWarp {
	return &FlowWarp{
		opts:     opts,
		fields:   newFieldCache(opts.FlowCacheSize),
		listings: map[string]map[string]string{},
	}
}

func (s *FlowWarp) Name() string {
	return NameFlow
}

func (s *FlowWarp) Evaluate(req *Request) (Verdict, error) {
	files, err := s.flowFiles(req)
	if err != nil {
		return Verdict{}, err
	}
	box := req.Left.Box()
	for _, fn := range files {
		field, err := s.fields.load(fn)
		if err != nil {
			return Verdict{}, err
		}
		box = field.Warp(box, s.opts.FlowAggregate)
	}

	index := nn.NewBoxIndex(proposals.Boxes(req.Right))
	best, iou := index.BestIOU(box, nil)
	if best == -1 || iou <= s.opts.FlowMinIOU {
		return Judge(req, -1), nil
	}
	return Judge(req, best), nil
}

// flowFiles returns the flow files to apply, in order
func (s *FlowWarp) flowFiles(req *Request) ([]string, error) {
	listing, err := s.listing(req.FlowDir)
	if err != nil {
		return nil, err
	}
	first, ok := listing[req.FrameL]
	if !ok {
		return nil, fmt.Errorf("%w: no flow for frame %v in %v", ErrMissingFlow, req.FrameL, req.FlowDir)
	}
	if !req.UseIntermediateFrames {
		return []string{first}, nil
	}
	frames := make([]string, 0, len(listing))
	for frame := range listing {
		if frame >= req.FrameL && frame < req.FrameR {
			frames = append(frames, frame)
		}
	}
	frames = sortedUnique(frames)
	files := make([]string, len(frames))
	for i, f := range frames {
		files[i] = listing[f]
	}
	return files, nil
}

func (s *FlowWarp) listing(dir string) (map[string]string, error) {
	s.listLock.Lock()
	defer s.listLock.Unlock()
	if l, ok := s.listings[dir]; ok {
		return l, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMissingFlow, err)
	}
	l := map[string]string{}
	// Walk extensions in priority order, so that .png wins if both exist
	for _, ext := range flowExtensions {
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || !strings.EqualFold(filepath.Ext(name), ext) {
				continue
			}
			frame := strings.TrimSuffix(name, filepath.Ext(name))
			if _, exists := l[frame]; !exists {
				l[frame] = filepath.Join(dir, name)
			}
		}
	}
	s.listings[dir] = l
	return l, nil
}

// fieldCache holds the most recently loaded flow fields.
// Consecutive left proposals of a frame pair use the same fields.
type fieldCache struct {
	lock   sync.Mutex
	max    int
	order  []string
	fields map[string]*flow.Field
}

func newFieldCache(maxFields int) *fieldCache {
	return &fieldCache{
		max:    max(1, maxFields),
		fields: map[string]*flow.Field{},
	}
}

func (c *fieldCache) load(filename string) (*flow.Field, error) {
	c.lock.Lock()
	if f, ok := c.fields[filename]; ok {
		c.lock.Unlock()
		return f, nil
	}
	c.lock.Unlock()

	f, err := flow.Load(filename)
	if err != nil {
		return nil, err
	}

	c.lock.Lock()
	defer c.lock.Unlock()
	if _, ok := c.fields[filename]; !ok {
		for len(c.order) >= c.max {
			delete(c.fields, c.order[0])
			c.order = c.order[1:]
		}
		c.fields[filename] = f
		c.order = append(c.order, filename)
	}
	return f, nil
}
