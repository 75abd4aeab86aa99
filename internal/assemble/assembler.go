// Package assemble normalizes raw engine output into component bundles and
// optionally publishes them to the component library's object storage.
package assemble

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/cadforge/api/internal/client"
	"github.com/cadforge/api/internal/model"
)

var contentTypes = map[model.ModelFormat]string{
	model.FormatSTEP: "application/step",
	model.FormatSTL:  "model/stl",
	model.FormatGLTF: "model/gltf+json",
}

// Assembler packages executor output. Publishing is a config-gated side
// effect; assembly itself is pure over its inputs.
type Assembler struct {
	storage client.StorageClient
	publish bool
}

func New(storage client.StorageClient, publish bool) *Assembler {
	return &Assembler{storage: storage, publish: publish}
}

// Assemble builds the canonical bundle for a job. The requested format
// must be supported by the engine and present in the output; partial or
// empty bundles are never returned.
func (a *Assembler) Assemble(ctx context.Context, out *model.RawOutput, script *model.ScriptDescriptor, params map[string]any, format model.ModelFormat, fingerprint string) (*model.ComponentBundle, error) {
	if !script.Engine.Supports(format) {
		return nil, fmt.Errorf("%w: engine %s cannot produce %s", model.ErrUnsupportedFormat, script.Engine, format)
	}
	if _, ok := out.Models[format]; !ok {
		return nil, fmt.Errorf("%w: engine %s did not return %s output", model.ErrUnsupportedFormat, script.Engine, format)
	}

	bundle := &model.ComponentBundle{
		Org:         script.Org,
		Name:        script.Name,
		Version:     script.Version,
		Fingerprint: fingerprint,
		License:     script.License,
		Params:      params,
		Models:      make(map[model.ModelFormat]model.ModelEntry, len(out.Models)),
		Meta: model.GenerationMeta{
			Engine:      script.Engine,
			Duration:    out.Duration,
			GeneratedAt: time.Now(),
		},
	}

	for f, raw := range out.Models {
		bundle.Models[f] = model.ModelEntry{
			Format:   f,
			Content:  raw.Content,
			Encoding: raw.Encoding,
		}
	}

	if a.publish && a.storage != nil {
		if err := a.publishBundle(ctx, bundle); err != nil {
			// publish failure does not invalidate the computed result
			log.Printf("Bundle publish failed for %s: %v", fingerprint, err)
		}
	}

	return bundle, nil
}

// ObjectKey is the storage location of one published bundle model.
func ObjectKey(bundle *model.ComponentBundle, format model.ModelFormat) string {
	return fmt.Sprintf("bundles/%s/%s/%s/%s.%s", bundle.Org, bundle.Name, bundle.Version, bundle.Fingerprint, format)
}

// publishBundle uploads every model entry. A bundle is published whole or
// not at all: a failed upload deletes the entries already stored.
func (a *Assembler) publishBundle(ctx context.Context, bundle *model.ComponentBundle) error {
	var uploaded []string
	for f, entry := range bundle.Models {
		data := []byte(entry.Content)
		if entry.Encoding == model.EncodingBase64 {
			decoded, err := base64.StdEncoding.DecodeString(entry.Content)
			if err != nil {
				a.rollback(ctx, bundle, uploaded)
				return fmt.Errorf("decode %s entry: %w", f, err)
			}
			data = decoded
		}

		key := ObjectKey(bundle, f)
		ref, err := a.storage.Upload(ctx, key, strings.NewReader(string(data)), contentTypes[f])
		if err != nil {
			a.rollback(ctx, bundle, uploaded)
			return fmt.Errorf("upload %s entry: %w", f, err)
		}
		uploaded = append(uploaded, key)

		entry.StorageRef = ref
		bundle.Models[f] = entry
	}
	return nil
}

func (a *Assembler) rollback(ctx context.Context, bundle *model.ComponentBundle, keys []string) {
	for _, key := range keys {
		if err := a.storage.Delete(ctx, key); err != nil {
			log.Printf("Failed to delete partial bundle object %s: %v", key, err)
		}
	}
	for f, entry := range bundle.Models {
		entry.StorageRef = ""
		bundle.Models[f] = entry
	}
}
