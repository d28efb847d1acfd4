// Package job runs a whole configuration: it validates the tree, builds
// the inputs that are the same for every file, numbers every file up
// front and dispatches one task per file.
package job

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/vk/simgrid/internal/config"
	"github.com/vk/simgrid/internal/ctxlog"
	"github.com/vk/simgrid/internal/dispatch"
	"github.com/vk/simgrid/internal/input"
	"github.com/vk/simgrid/internal/notify"
	"github.com/vk/simgrid/internal/output"
	"github.com/vk/simgrid/internal/registry"
	"github.com/vk/simgrid/internal/render"
	"github.com/vk/simgrid/internal/sequence"
	"github.com/vk/simgrid/internal/value"
	"github.com/vk/simgrid/internal/writer"
)

// TopLevelKeys are the keys a configuration tree may hold.
var TopLevelKeys = []string{"input", "output", "image", "gal", "psf", "pix", "root"}

// DefaultRoot names output files when neither output.file_name nor root
// is configured.
const DefaultRoot = "simgrid"

// Job runs configuration trees. Registry, Renderer and Writer are
// required; the rest have defaults.
type Job struct {
	Registry *registry.Registry
	Outputs  output.Types
	Renderer render.Renderer
	Writer   writer.Writer
	Notifier notify.Notifier
	// NewEvaluator defaults to a value.Resolver with the built-in kinds.
	NewEvaluator func() (value.Evaluator, error)
	// Workers overrides output.nproc when positive.
	Workers int
	// RunID tags notifications. A random one is used when empty.
	RunID string
	// Progress, when set, is called after every file with the number of
	// files finished and the total.
	Progress func(done, total int)
}

// FileSummary reports one output file.
type FileSummary struct {
	FileNum  int
	Path     string
	Skipped  bool
	NImages  int
	NObjects int
	ImageNum int
	ObjNum   int
	Extras   []string
	Worker   int
	Err      error
}

// Summary reports a run.
type Summary struct {
	RunID    string
	NProc    int
	Files    []FileSummary
	Written  int
	Skipped  int
	Failed   int
	Duration time.Duration
}

type task struct {
	rng    sequence.Range
	path   string
	config config.Map
	layout *output.Layout
	extras []output.Extra
}

// settings are the job-wide values read from the output and image branches.
type settings struct {
	typ    output.Type
	out    config.Map
	image  config.Map
	nfiles int
	nproc  int
	// nproc2 is the parallelism inside one file.
	nproc2 int
	seed   int64
}

// Run executes tree and returns a summary of every file, including the
// files that failed.
func (j *Job) Run(ctx context.Context, tree config.Map) (*Summary, error) {
	start := time.Now()
	runID := j.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	logger := ctxlog.FromContext(ctx).With("run_id", runID)
	ctx = ctxlog.WithLogger(ctx, logger)

	if j.Registry == nil || j.Renderer == nil || j.Writer == nil {
		return nil, errors.New("job needs a registry, a renderer and a writer")
	}
	notifier := j.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}

	if err := config.CheckKeys(tree, "", TopLevelKeys); err != nil {
		return nil, err
	}
	ev, err := j.evaluator()
	if err != nil {
		return nil, err
	}
	st, err := j.settings(ctx, ev, tree)
	if err != nil {
		return nil, err
	}
	logger.Info("Building files.", "nfiles", st.nfiles, "nproc", st.nproc, "output_type", st.typ.Name)

	store := input.NewStore(j.Registry, ev)
	if err := store.Init(ctx, tree); err != nil {
		return nil, err
	}
	defer store.Close()

	if st.nproc > 1 {
		store.StartSharing(ctx)
	}
	base := &value.Scope{Root: tree, Seed: st.seed, IndexKey: value.FileNumKey}
	if err := store.ProcessInput(ctx, base, input.ProcessOptions{SafeOnly: true}); err != nil {
		return nil, err
	}

	ranges, err := sequence.Plan(ctx, st.nfiles, sequence.CounterFunc(func(ctx context.Context, fileNum, imageStart, objStart int) ([]int, error) {
		return j.fileObjects(ctx, ev, store, tree, st, fileNum, imageStart, objStart)
	}))
	if err != nil {
		return nil, err
	}

	sum := &Summary{RunID: runID, NProc: st.nproc}
	var tasks []task
	tracker := output.NewExtraFiles()
	for _, r := range ranges {
		t, skip, err := j.describe(ctx, ev, store, tree, st, r)
		if err != nil {
			return nil, fmt.Errorf("file %d: %w", r.FileNum, err)
		}
		if skip {
			fs := FileSummary{FileNum: r.FileNum, Path: t.path, Skipped: true, ImageNum: r.ImageStart, ObjNum: r.ObjStart, Worker: -1}
			sum.Files = append(sum.Files, fs)
			sum.Skipped++
			logger.Info("Skipping file.", "file_num", r.FileNum, "path", t.path)
			notifier.FileDone(ctx, notify.Event{RunID: runID, FileNum: r.FileNum, Path: t.path, Skipped: true})
			continue
		}
		tracker.Mark(t.extras)
		tasks = append(tasks, t)
	}

	asm := &output.Assembler{Renderer: j.Renderer, Writer: j.Writer}
	done := sum.Skipped
	onResult := func(res dispatch.Result[task, *output.Result]) {
		t := res.Task
		fs := FileSummary{FileNum: t.rng.FileNum, Path: t.path, ImageNum: t.rng.ImageStart, ObjNum: t.rng.ObjStart, Worker: res.Worker, Err: res.Err}
		event := notify.Event{RunID: runID, FileNum: t.rng.FileNum, Path: t.path}
		if res.State == dispatch.Done {
			fs.NImages, fs.NObjects, fs.Extras = res.Value.NImages, res.Value.NObjects, res.Value.Extras
			event.NImages, event.NObjects = fs.NImages, fs.NObjects
			sum.Written++
			logger.Info("File written.", "file_num", fs.FileNum, "path", fs.Path, "nimages", fs.NImages, "nobjects", fs.NObjects, "worker", res.Worker)
		} else {
			event.Error = res.Err.Error()
			sum.Failed++
			logger.Error("File failed.", "file_num", fs.FileNum, "path", fs.Path, "worker", res.Worker, "error", res.Err)
		}
		sum.Files = append(sum.Files, fs)
		notifier.FileDone(ctx, event)
		done++
		if j.Progress != nil {
			j.Progress(done, st.nfiles)
		}
	}

	if st.nproc > 1 && len(tasks) > 1 {
		var forks []*input.Store
		pool := &dispatch.Pool[task, *output.Result]{Workers: st.nproc}
		err = pool.Run(ctx, tasks, func(ctx context.Context, id int) (dispatch.WorkerFunc[task, *output.Result], error) {
			wev := ev.Fork()
			ws := store.Fork(wev)
			forks = append(forks, ws)
			return func(ctx context.Context, t task) (*output.Result, error) {
				return j.build(ctx, asm, ws, wev, st, t)
			}, nil
		}, onResult)
		for _, ws := range forks {
			ws.Close()
		}
	} else {
		err = dispatch.Sequential(ctx, tasks, func(ctx context.Context, t task) (*output.Result, error) {
			return j.build(ctx, asm, store, ev, st, t)
		}, onResult)
	}

	slices.SortFunc(sum.Files, func(a, b FileSummary) int { return a.FileNum - b.FileNum })
	sum.Duration = time.Since(start)
	return sum, err
}

// kindRegistrar is implemented by evaluators accepting extra value kinds.
type kindRegistrar interface {
	RegisterKind(name string, k value.Kind)
}

func (j *Job) evaluator() (value.Evaluator, error) {
	var (
		ev  value.Evaluator
		err error
	)
	if j.NewEvaluator != nil {
		ev, err = j.NewEvaluator()
	} else {
		ev, err = value.NewResolver(0)
	}
	if err != nil {
		return nil, err
	}
	if kr, ok := ev.(kindRegistrar); ok {
		for name, k := range j.Registry.Kinds() {
			kr.RegisterKind(name, k)
		}
	}
	return ev, nil
}

func (j *Job) settings(ctx context.Context, ev value.Evaluator, tree config.Map) (*settings, error) {
	logger := ctxlog.FromContext(ctx)
	out, _ := config.Sub(tree, "output")
	if out == nil {
		out = config.Map{}
	}
	image, _ := config.Sub(tree, "image")
	if image == nil {
		image = config.Map{}
	}

	types := j.Outputs
	if types == nil {
		types = output.Builtin()
	}
	sc := &value.Scope{Root: tree, IndexKey: value.FileNumKey}
	name, _, err := value.ParseString(ctx, ev, out, "type", sc, output.DefaultType)
	if err != nil {
		return nil, fmt.Errorf("output.%w", err)
	}
	typ, err := types.Lookup(name)
	if err != nil {
		return nil, err
	}
	if err := config.CheckKeys(out, "output", typ.AllKeys()); err != nil {
		return nil, err
	}
	if err := config.CheckKeys(image, "image", render.ImageKeys); err != nil {
		return nil, err
	}

	st := &settings{typ: typ, out: out, image: image, nproc2: 1}
	if st.nfiles, _, err = value.ParseInt(ctx, ev, out, "nfiles", sc, 1); err != nil {
		return nil, fmt.Errorf("output.%w", err)
	}
	if st.nfiles < 0 {
		return nil, &config.ValidationError{Path: "output", Key: "nfiles", Reason: fmt.Sprintf("must not be negative, got %d", st.nfiles)}
	}
	if st.nproc, _, err = value.ParseInt(ctx, ev, out, "nproc", sc, 1); err != nil {
		return nil, fmt.Errorf("output.%w", err)
	}
	if j.Workers > 0 {
		st.nproc = j.Workers
	}
	if st.nproc <= 0 {
		st.nproc = runtime.NumCPU()
		logger.Debug("Using one process per CPU.", "nproc", st.nproc)
	}
	if st.nproc > st.nfiles && st.nfiles > 0 {
		if st.nfiles == 1 && typ.CanDoMultiple {
			st.nproc2, st.nproc = st.nproc, 1
			logger.Debug("Building the images of the single file in parallel.", "nproc", st.nproc2)
		} else {
			logger.Warn("Trying to use more processes than files, reducing.", "requested", st.nproc, "nproc", st.nfiles)
			st.nproc = st.nfiles
		}
	}

	seed, _, err := value.ParseInt(ctx, ev, image, "random_seed", sc, 0)
	if err != nil {
		return nil, fmt.Errorf("image.%w", err)
	}
	st.seed = int64(seed)
	return st, nil
}

// fileObjects sizes one file during planning.
func (j *Job) fileObjects(ctx context.Context, ev value.Evaluator, store *input.Store, tree config.Map, st *settings, fileNum, imageStart, objStart int) ([]int, error) {
	sc := &value.Scope{Root: tree, FileNum: fileNum, ImageNum: imageStart, ObjNum: objStart, IndexKey: value.FileNumKey, Seed: st.seed, Inputs: store}
	count := func(ctx context.Context) (int, bool, error) {
		n, _, ok, err := store.NObjects(ctx, sc)
		return n, ok, err
	}

	imageType, _, err := value.ParseString(ctx, ev, st.image, "type", sc.With(value.ImageNumKey), "Single")
	if err != nil {
		return nil, fmt.Errorf("image.%w", err)
	}
	nimages, err := st.typ.NImages(ctx, output.NImagesRequest{Output: st.out, Scope: sc, Eval: ev, ImageType: imageType, Count: count})
	if err != nil {
		return nil, err
	}

	nobj := make([]int, nimages)
	obj := objStart
	for i := range nobj {
		isc := *sc
		isc.ImageNum, isc.ObjNum = imageStart+i, obj
		n, err := render.ImageObjects(ctx, ev, st.image, &isc, count)
		if err != nil {
			return nil, fmt.Errorf("image %d: %w", imageStart+i, err)
		}
		nobj[i] = n
		obj += n
	}
	return nobj, nil
}

// describe resolves the file-level settings of one file in file order.
func (j *Job) describe(ctx context.Context, ev value.Evaluator, store *input.Store, tree config.Map, st *settings, r sequence.Range) (task, bool, error) {
	sc := &value.Scope{Root: tree, FileNum: r.FileNum, ImageNum: r.ImageStart, ObjNum: r.ObjStart, IndexKey: value.FileNumKey, Seed: st.seed, Inputs: store}

	store.BeginFile(ctx)
	if err := store.ProcessInput(ctx, sc, input.ProcessOptions{FileScopeOnly: true}); err != nil {
		return task{}, false, err
	}

	t := task{rng: r, config: config.CopyForTask(tree)}
	out := st.out

	root, _ := tree["root"].(string)
	if root == "" {
		root = DefaultRoot
	}
	name, _, err := value.ParseString(ctx, ev, out, "file_name", sc, root+".fits")
	if err != nil {
		return task{}, false, fmt.Errorf("output.%w", err)
	}
	dir, _, err := value.ParseString(ctx, ev, out, "dir", sc, "")
	if err != nil {
		return task{}, false, fmt.Errorf("output.%w", err)
	}
	if dir != "" {
		name = filepath.Join(dir, name)
	}
	t.path = name

	skip, _, err := value.ParseBool(ctx, ev, out, "skip", sc, false)
	if err != nil {
		return task{}, false, fmt.Errorf("output.%w", err)
	}
	noclobber, _, err := value.ParseBool(ctx, ev, out, "noclobber", sc, false)
	if err != nil {
		return task{}, false, fmt.Errorf("output.%w", err)
	}
	if !skip && noclobber {
		if _, err := os.Stat(t.path); err == nil {
			ctxlog.FromContext(ctx).Debug("File exists and noclobber is set.", "path", t.path)
			skip = true
		}
	}

	t.extras, t.layout, err = output.ParseExtras(ctx, ev, out, st.typ, sc)
	if err != nil {
		return task{}, false, err
	}
	return t, skip, nil
}

// build assembles one file with a store and evaluator owned by the caller.
func (j *Job) build(ctx context.Context, asm *output.Assembler, store *input.Store, ev value.Evaluator, st *settings, t task) (*output.Result, error) {
	sc := &value.Scope{Root: t.config, FileNum: t.rng.FileNum, ImageNum: t.rng.ImageStart, ObjNum: t.rng.ObjStart, IndexKey: value.FileNumKey, Seed: st.seed, Inputs: store}

	store.BeginFile(ctx)
	if err := store.ProcessInput(ctx, sc, input.ProcessOptions{}); err != nil {
		return nil, fmt.Errorf("file %d: %w", t.rng.FileNum, err)
	}

	res, err := asm.Build(ctx, &output.File{
		Type:   st.typ,
		Path:   t.path,
		Config: t.config,
		Range:  t.rng,
		Seed:   st.seed,
		Eval:   ev,
		Layout: t.layout,
		Extras: t.extras,
		Setup: func(ctx context.Context, scope *value.Scope, ev value.Evaluator) (value.InputSource, error) {
			return store.ForImage(ctx, scope, ev)
		},
		NProc: st.nproc2,
	})
	if err != nil {
		return nil, fmt.Errorf("file %d (%s): %w", t.rng.FileNum, t.path, err)
	}
	return res, nil
}
