// Package assets supplies decoded pixel data to the texture residency
// manager and watches the asset directory for hot reloads.
package assets

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/image/draw"

	// Decoders for the formats found in asset directories.
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"github.com/spaghettifunk/keel/engine/renderer/device"
	"github.com/spaghettifunk/keel/engine/renderer/residency"
)

// DirProvider implements residency.Provider over a directory of image files.
// Ids are assigned in sorted filename order at scan time, so the same
// directory contents always produce the same ids. Decoding happens on demand;
// every image is expanded to tightly packed RGBA8.
type DirProvider struct {
	root  string
	paths map[residency.AssetID]string
	ids   map[string]residency.AssetID
}

// NewDirProvider scans root (non-recursively) for decodable image files.
func NewDirProvider(root string) (*DirProvider, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("assets: reading %s: %w", root, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".png", ".jpg", ".jpeg", ".bmp", ".tiff", ".tif":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	p := &DirProvider{
		root:  root,
		paths: make(map[residency.AssetID]string, len(names)),
		ids:   make(map[string]residency.AssetID, len(names)),
	}
	for i, name := range names {
		id := residency.AssetID(i + 1)
		p.paths[id] = filepath.Join(root, name)
		p.ids[name] = id
	}
	return p, nil
}

// Lookup returns the id assigned to a file name inside the root directory.
func (p *DirProvider) Lookup(name string) (residency.AssetID, bool) {
	id, ok := p.ids[name]
	return id, ok
}

// Len returns the number of known assets.
func (p *DirProvider) Len() int {
	return len(p.paths)
}

// Info reports the decoded dimensions of the asset. File images are always
// single-layer RGBA8; layered and block-compressed assets come from packaged
// archives, not loose files.
func (p *DirProvider) Info(id residency.AssetID) (residency.Info, error) {
	path, ok := p.paths[id]
	if !ok {
		return residency.Info{}, fmt.Errorf("assets: unknown asset id %d", id)
	}

	f, err := os.Open(path)
	if err != nil {
		return residency.Info{}, fmt.Errorf("assets: opening %s: %w", path, err)
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return residency.Info{}, fmt.Errorf("assets: decoding header of %s: %w", path, err)
	}
	return residency.Info{
		Width:  uint32(cfg.Width),
		Height: uint32(cfg.Height),
		Layers: 1,
		Format: device.FormatRGBA8,
	}, nil
}

// Pixels decodes the asset and returns tightly packed RGBA8 rows.
func (p *DirProvider) Pixels(id residency.AssetID, layer uint32) ([]byte, error) {
	path, ok := p.paths[id]
	if !ok {
		return nil, fmt.Errorf("assets: unknown asset id %d", id)
	}
	if layer != 0 {
		return nil, fmt.Errorf("assets: %s has a single layer, requested %d", path, layer)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("assets: opening %s: %w", path, err)
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("assets: decoding %s: %w", path, err)
	}

	bounds := src.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(rgba, rgba.Bounds(), src, bounds.Min, draw.Src)
	return rgba.Pix, nil
}
