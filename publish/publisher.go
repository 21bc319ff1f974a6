// Package publish turns local files into AYON products, versions and representations.
// Files are grouped into frame sequences, copied to paths resolved from the project's
// anatomy and registered with the server one group at a time. A publish is not
// atomic: whatever was copied or created before a failure stays in place and is
// reported as a partial record.
package publish

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/richinsley/comfy2ayon/anatomy"
	"github.com/richinsley/comfy2ayon/ayon"
	"github.com/richinsley/comfy2ayon/errdefs"
	"github.com/richinsley/comfy2ayon/logger"
	"github.com/richinsley/comfy2ayon/sequence"
)

// Request describes one publish.
type Request struct {
	ProjectName string   `json:"project_name"`
	FolderPath  string   `json:"folder_path"`
	TaskName    string   `json:"task_name,omitempty"`
	ProductName string   `json:"product_name"`
	ProductType string   `json:"product_type,omitempty"`
	Files       []string `json:"files"`
	Description string   `json:"description,omitempty"`
	// Output fills the {output} placeholder of the publish template.
	Output string `json:"output,omitempty"`
}

// Publisher runs publishes against one AYON service.
type Publisher struct {
	svc ayon.Service
	cfg Config
	log logger.Logger
	// OnCopy is called after each file lands in the publish area.
	OnCopy func(src, dst string)
	// Platform selects which root path is used; the running OS when empty.
	Platform string
}

func NewPublisher(svc ayon.Service, cfg Config, log logger.Logger) *Publisher {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	if cfg.TemplateName == "" {
		cfg.TemplateName = anatomy.DefaultTemplateName
	}
	if cfg.Author == "" {
		cfg.Author = "system"
	}
	return &Publisher{svc: svc, cfg: cfg, log: log.With(map[string]interface{}{"component": "publish"})}
}

// NextVersion returns one more than the highest existing version number, or 1.
func NextVersion(versions []ayon.Version) int {
	highest := 0
	for _, v := range versions {
		if v.Version > highest {
			highest = v.Version
		}
	}
	return highest + 1
}

// Run publishes req and reports the outcome as a Result. Errors and panics from any
// step end up in a Failure carrying the partial record.
func (p *Publisher) Run(ctx context.Context, req Request) (res Result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("Publish panicked", map[string]interface{}{"panic": fmt.Sprint(r)})
			res = Failure{Kind: errdefs.KindUnknown, Err: fmt.Errorf("publish panicked: %v", r)}
		}
		PublishDuration.Observe(time.Since(start).Seconds())
		if res.OK() {
			PublishTotal.WithLabelValues("success").Inc()
		} else {
			PublishTotal.WithLabelValues("failure").Inc()
		}
	}()

	record, err := p.Publish(ctx, req)
	if err != nil {
		p.log.WithError(err).Error("Publish failed", map[string]interface{}{
			"project": req.ProjectName,
			"folder":  req.FolderPath,
			"product": req.ProductName,
		})
		f := Failure{Kind: errdefs.KindOf(err), Err: err}
		if !record.empty() {
			f.Partial = record
		}
		return f
	}
	return Success{Record: record}
}

// Publish validates the files, gets or creates the product, picks the next version
// and publishes every detected group. On error the returned record holds what was done
// so far.
func (p *Publisher) Publish(ctx context.Context, req Request) (*Record, error) {
	const op = "Publish"
	record := &Record{}

	if req.ProjectName == "" || req.FolderPath == "" || req.ProductName == "" {
		return record, errdefs.Invalid(op, "project, folder path and product name are required")
	}
	if len(req.Files) == 0 {
		return record, errdefs.Invalid(op, "no files to publish")
	}
	for _, f := range req.Files {
		info, err := os.Stat(f)
		if err != nil {
			return record, errdefs.NotFound(op, "file does not exist: %s", f)
		}
		if info.IsDir() {
			return record, errdefs.Invalid(op, "not a file: %s", f)
		}
	}
	productType := req.ProductType
	if productType == "" {
		productType = p.cfg.DefaultProductType
	}

	folder, err := p.svc.GetFolderByPath(ctx, req.ProjectName, req.FolderPath)
	if err != nil {
		return record, err
	}
	if folder == nil {
		return record, errdefs.NotFound(op, "folder not found: %s", req.FolderPath)
	}
	var taskID string
	if req.TaskName != "" {
		task, err := p.svc.GetTaskByFolderPath(ctx, req.ProjectName, req.FolderPath, req.TaskName)
		if err != nil {
			return record, err
		}
		if task == nil {
			return record, errdefs.NotFound(op, "task %s not found in %s", req.TaskName, req.FolderPath)
		}
		taskID = task.ID
	}

	product, err := p.getOrCreateProduct(ctx, req.ProjectName, folder.ID, req.ProductName, productType)
	if err != nil {
		return record, err
	}
	record.ProductID = product.ID

	versions, err := p.svc.GetVersions(ctx, req.ProjectName, product.ID)
	if err != nil {
		return record, err
	}
	record.Version = NextVersion(versions)

	resolver, err := p.resolver(ctx, req.ProjectName)
	if err != nil {
		return record, err
	}

	groups := sequence.Detect(req.Files)
	names := representationNames(groups)
	p.log.Info("Publishing", map[string]interface{}{
		"project": req.ProjectName,
		"folder":  req.FolderPath,
		"product": req.ProductName,
		"version": record.Version,
		"files":   len(req.Files),
		"groups":  len(groups),
	})

	base := anatomy.PathRequest{
		ProjectName: req.ProjectName,
		FolderPath:  req.FolderPath,
		TaskName:    req.TaskName,
		ProductName: req.ProductName,
		ProductType: productType,
		Version:     record.Version,
		Output:      req.Output,
	}
	newVersion := ayon.Version{
		Version:   record.Version,
		ProductID: product.ID,
		TaskID:    taskID,
		Author:    p.cfg.Author,
		Status:    p.cfg.Status,
		Attrib:    p.versionAttrib(groups),
		Data:      map[string]any{"comment": req.Description},
	}

	// all destinations are resolved before the first copy; no two files may share one
	seen := make(map[string]string, len(req.Files))
	plans := make([][]placement, len(groups))
	for i, g := range groups {
		if plans[i], err = planGroup(resolver, base, names[i], g, seen); err != nil {
			return record, err
		}
	}
	for i, g := range groups {
		if err := p.publishGroup(ctx, resolver, req.ProjectName, base, names[i], g, plans[i], newVersion, record); err != nil {
			return record, err
		}
	}
	p.log.Info("Published", map[string]interface{}{
		"product_id": record.ProductID,
		"version_id": record.VersionID,
		"version":    record.Version,
		"paths":      len(record.Paths),
	})
	return record, nil
}

func (p *Publisher) getOrCreateProduct(ctx context.Context, project, folderID, name, productType string) (*ayon.Product, error) {
	product, err := p.svc.GetProductByName(ctx, project, folderID, name)
	if err != nil {
		return nil, err
	}
	if product != nil {
		return product, nil
	}

	created, err := p.svc.CreateProduct(ctx, project, ayon.Product{
		Name:        name,
		ProductType: strings.ToLower(productType),
		FolderID:    folderID,
		Data:        map[string]any{"description": "Automatically created product"},
	})
	if err != nil {
		return nil, err
	}
	if created.HasEntity() {
		product = &ayon.Product{}
		if err := created.Decode(product); err == nil && product.ID != "" {
			return product, nil
		}
	}
	if created.ID == "" {
		return nil, errdefs.Service("CreateProduct", nil, "server returned no product id")
	}
	// only the id came back
	return p.svc.GetProduct(ctx, project, created.ID)
}

func (p *Publisher) resolver(ctx context.Context, project string) (*anatomy.Resolver, error) {
	proj, err := p.svc.GetProject(ctx, project)
	if err != nil {
		return nil, err
	}
	a, err := anatomy.ParseAnatomy(proj.Config)
	if err != nil {
		return nil, err
	}
	r := anatomy.NewResolver(a, p.cfg.TemplateName, p.log)
	if p.Platform != "" {
		r = r.WithPlatform(p.Platform)
	}
	return r, nil
}

func (p *Publisher) versionAttrib(groups []sequence.Group) map[string]any {
	attrib := map[string]any{
		"fps":              p.cfg.FPS,
		"resolutionWidth":  p.cfg.ResolutionWidth,
		"resolutionHeight": p.cfg.ResolutionHeight,
	}
	var (
		lo, hi int
		found  bool
	)
	for _, g := range groups {
		if !g.IsSequence() {
			continue
		}
		start, end, ok := g.FrameRange()
		if !ok {
			continue
		}
		if !found || start < lo {
			lo = start
		}
		if !found || end > hi {
			hi = end
		}
		found = true
	}
	if found {
		attrib["frameStart"] = lo
		attrib["frameEnd"] = hi
	}
	return attrib
}

type placement struct{ src, dst string }

func groupRequest(base anatomy.PathRequest, name string, g sequence.Group) anatomy.PathRequest {
	base.Representation = name
	base.Ext = strings.TrimPrefix(filepath.Ext(g.Files[0]), ".")
	return base
}

// planGroup resolves the destination of every file in g. seen maps destinations
// already claimed in this publish to their source.
func planGroup(r *anatomy.Resolver, base anatomy.PathRequest, name string, g sequence.Group, seen map[string]string) ([]placement, error) {
	const op = "planGroup"
	base = groupRequest(base, name, g)
	placements := make([]placement, 0, len(g.Files))
	frames := g.Frames()

	for i, src := range g.Files {
		req := base
		req.OriginalBasename = strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
		if g.IsSequence() {
			info, _ := sequence.ExtractFrameInfo(src)
			req.Frame = frameToken(frames[i], info.Padding)
		}
		dst, err := r.Resolve(req)
		if err != nil {
			return nil, err
		}
		if other, dup := seen[dst]; dup {
			return nil, errdefs.Invalid(op, "%s and %s resolve to the same destination %s", other, src, dst)
		}
		seen[dst] = src
		placements = append(placements, placement{src: src, dst: dst})
	}
	return placements, nil
}

// publishGroup copies and registers one planned group. The version is created
// before the first representation.
func (p *Publisher) publishGroup(ctx context.Context, r *anatomy.Resolver, project string, base anatomy.PathRequest, name string, g sequence.Group, placements []placement, version ayon.Version, record *Record) error {
	const op = "publishGroup"
	first := g.Files[0]
	base = groupRequest(base, name, g)

	files := make([]ayon.RepresentationFile, 0, len(placements))
	kind := "single"
	if g.IsSequence() {
		kind = "sequence"
	}
	for _, pl := range placements {
		if err := CopyFile(pl.src, pl.dst); err != nil {
			return err
		}
		record.Paths = append(record.Paths, pl.dst)
		PublishFilesTotal.WithLabelValues(kind).Inc()
		if p.OnCopy != nil {
			p.OnCopy(pl.src, pl.dst)
		}
		info, err := os.Stat(pl.dst)
		if err != nil {
			return errdefs.IO(op, err, "stat %s", pl.dst)
		}
		files = append(files, ayon.RepresentationFile{
			ID:   fileID(),
			Name: filepath.Base(pl.dst),
			Path: pl.dst,
			Size: info.Size(),
		})
	}

	if record.VersionID == "" {
		created, err := p.svc.CreateVersion(ctx, project, version)
		if err != nil {
			return err
		}
		if created.ID == "" {
			return errdefs.Service("CreateVersion", nil, "server returned no version id")
		}
		record.VersionID = created.ID
	}

	rep := ayon.Representation{
		Name:      name,
		VersionID: record.VersionID,
		Files:     files,
		Tags:      append([]string(nil), p.cfg.ReviewTags...),
		Data: map[string]any{
			"colorspace":       p.cfg.Colorspace,
			"originalBasename": filepath.Base(first),
			"isSequence":       g.IsSequence(),
		},
		Attrib: map[string]any{"path": placements[0].dst},
	}
	if g.IsSequence() {
		tmplPath, err := r.TemplatePath(base)
		if err != nil {
			return err
		}
		start, end, _ := g.FrameRange()
		rep.Tags = append(rep.Tags, "sequence")
		rep.Data["originalBasename"] = filepath.Base(g.Pattern)
		rep.Data["frameStart"] = start
		rep.Data["frameEnd"] = end
		rep.Attrib["path"] = tmplPath
		rep.Attrib["template"] = tmplPath
	}
	created, err := p.svc.CreateRepresentation(ctx, project, rep)
	if err != nil {
		return err
	}
	record.RepresentationIDs = append(record.RepresentationIDs, created.ID)

	if err := p.svc.UploadReviewable(ctx, project, record.VersionID, placements[0].dst); err != nil {
		return err
	}
	p.log.Debug("Published group", map[string]interface{}{
		"representation": name,
		"files":          len(files),
		"sequence":       g.IsSequence(),
	})
	return nil
}

// frameToken pads to at least four digits and keeps wider source padding.
func frameToken(frame, padding int) string {
	if padding > 4 {
		return fmt.Sprintf("%0*d", padding, frame)
	}
	return anatomy.FrameString(frame)
}

func fileID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// representationNames names each group by its extension, falling back to the group
// label and then a numeric suffix when two groups in one version would share a name.
func representationNames(groups []sequence.Group) []string {
	names := make([]string, len(groups))
	used := make(map[string]bool, len(groups))
	for i, g := range groups {
		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(g.Files[0]), "."))
		candidates := []string{ext, g.Label()}
		name := ""
		for _, c := range candidates {
			if c != "" && !used[c] {
				name = c
				break
			}
		}
		if name == "" {
			stem := ext
			if stem == "" {
				stem = "file"
			}
			for n := 2; ; n++ {
				c := fmt.Sprintf("%s%d", stem, n)
				if !used[c] {
					name = c
					break
				}
			}
		}
		used[name] = true
		names[i] = name
	}
	return names
}
