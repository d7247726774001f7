package platform

import (
	"context"
	"fmt"
	"time"

	"github.com/containerd/errdefs"

	"github.com/cuemby/burrow/pkg/bundler"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/template"
	"github.com/cuemby/burrow/pkg/types"
)

// TemplateInstantiation is the input for stamping a worker out of a
// template: the new worker's id, values for the template's slots, and
// optional config and build overrides applied on top of the template's
// defaults.
type TemplateInstantiation struct {
	WorkerID  string              `json:"workerId"`
	Slots     map[string]string   `json:"slots,omitempty"`
	Overrides *types.ConfigBundle `json:"overrides,omitempty"`
	Hostnames []string            `json:"hostnames,omitempty"`
	Build     bundler.Options     `json:"build,omitempty"`
}

// RegisterTemplate stores a new template after validating its slot
// declarations against the placeholders its files use.
func (p *Platform) RegisterTemplate(ctx context.Context, tpl *types.Template) (*types.Template, error) {
	if err := validateID("template", tpl.ID); err != nil {
		return nil, err
	}
	if err := validateFiles(tpl.Files); err != nil {
		return nil, err
	}
	if err := template.Validate(tpl); err != nil {
		return nil, err
	}
	if _, err := p.store.GetTemplate(ctx, tpl.ID); err == nil {
		return nil, fmt.Errorf("template %q already exists: %w", tpl.ID, errdefs.ErrConflict)
	} else if !errdefs.IsNotFound(err) {
		return nil, err
	}

	now := time.Now().UTC()
	tpl.CreatedAt = now
	tpl.UpdatedAt = now
	if err := p.store.PutTemplate(ctx, tpl); err != nil {
		return nil, err
	}

	p.publish(&types.Event{Type: types.EventTemplateCreated, Data: map[string]string{"template": tpl.ID}})
	p.logger.Info().Str("template_id", tpl.ID).Msg("template registered")
	return tpl, nil
}

// UpdateTemplate replaces a template wholesale. Workers already stamped
// from it are unaffected.
func (p *Platform) UpdateTemplate(ctx context.Context, id string, tpl *types.Template) (*types.Template, error) {
	existing, err := p.store.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}

	tpl.ID = id
	if err := validateFiles(tpl.Files); err != nil {
		return nil, err
	}
	if err := template.Validate(tpl); err != nil {
		return nil, err
	}

	tpl.CreatedAt = existing.CreatedAt
	tpl.UpdatedAt = time.Now().UTC()
	if err := p.store.PutTemplate(ctx, tpl); err != nil {
		return nil, err
	}

	p.publish(&types.Event{Type: types.EventTemplateUpdated, Data: map[string]string{"template": id}})
	return tpl, nil
}

// GetTemplate returns one template.
func (p *Platform) GetTemplate(ctx context.Context, id string) (*types.Template, error) {
	return p.store.GetTemplate(ctx, id)
}

// DeleteTemplate removes a template. Workers stamped from it live on.
func (p *Platform) DeleteTemplate(ctx context.Context, id string) error {
	if _, err := p.store.GetTemplate(ctx, id); err != nil {
		return err
	}
	if err := p.store.DeleteTemplate(ctx, id); err != nil {
		return err
	}
	p.publish(&types.Event{Type: types.EventTemplateDeleted, Data: map[string]string{"template": id}})
	return nil
}

// ListTemplates pages through template metadata in id order.
func (p *Platform) ListTemplates(ctx context.Context, opts storage.ListOptions) ([]types.TemplateMetadata, string, error) {
	templates, next, err := p.store.ListTemplates(ctx, opts)
	if err != nil {
		return nil, "", err
	}
	metas := make([]types.TemplateMetadata, 0, len(templates))
	for _, tpl := range templates {
		metas = append(metas, template.Metadata(tpl))
	}
	return metas, next, nil
}

// CreateWorkerFromTemplate interpolates a template's files with the given
// slot values and deploys the result as a regular worker. The template's
// config defaults sit under the instantiation's overrides.
func (p *Platform) CreateWorkerFromTemplate(ctx context.Context, tenantID, templateID string, in TemplateInstantiation) (*types.Worker, error) {
	tpl, err := p.store.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}

	files, err := template.Interpolate(tpl, in.Slots)
	if err != nil {
		return nil, err
	}

	var base types.ConfigBundle
	if tpl.Defaults != nil {
		base = *tpl.Defaults
	}

	worker := &types.Worker{
		ID:           in.WorkerID,
		ConfigBundle: mergeBundle(base, in.Overrides),
		Files:        files,
		Hostnames:    in.Hostnames,
		Build:        in.Build,
	}
	created, err := p.CreateWorker(ctx, tenantID, worker)
	if err != nil {
		return nil, err
	}

	p.logger.Info().
		Str("tenant_id", tenantID).
		Str("worker_id", in.WorkerID).
		Str("template_id", templateID).
		Msg("worker created from template")
	return created, nil
}

// PreviewTemplateFiles interpolates a template without deploying anything.
func (p *Platform) PreviewTemplateFiles(ctx context.Context, templateID string, slots map[string]string) (map[string]string, error) {
	tpl, err := p.store.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}
	return template.Interpolate(tpl, slots)
}
