// Package vendoring copies configured packages into the project's
// vendoring directory.
package vendoring

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/stagehand/stagehand/pkg/fsutil"
	"github.com/stagehand/stagehand/pkg/logger"
	"github.com/stagehand/stagehand/pkg/toolchain"
	"github.com/stagehand/stagehand/pkg/types"
)

// ErrPackageNotFound indicates a configured package could not be
// resolved under any search root.
var ErrPackageNotFound = errors.New("package not found")

// Kind classifies how a package is vendored
type Kind string

const (
	KindFile Kind = "file"
	KindTree Kind = "tree"
)

// VendoredPackage describes one vendored package on disk
type VendoredPackage struct {
	Name      string              `json:"name"`
	From      types.PackageSource `json:"from,omitempty"`
	Source    string              `json:"source,omitempty"`
	Dest      string              `json:"dest,omitempty"`
	Kind      Kind                `json:"kind,omitempty"`
	Files     int                 `json:"files"`
	SizeBytes int64               `json:"sizeBytes"`
}

// VerifyStatus classifies the outcome of verifying a vendored package
type VerifyStatus string

const (
	VerifyOK       VerifyStatus = "ok"
	VerifyMissing  VerifyStatus = "missing"
	VerifyModified VerifyStatus = "modified"
)

// VerifyResult reports one package's verification outcome
type VerifyResult struct {
	Name   string
	Status VerifyStatus
	Detail string
}

// Vendorer resolves configured packages against the environment and
// devlib search roots and copies them into the vendoring directory.
type Vendorer struct {
	projectRoot string
	config      *types.StagehandConfig
	toolchain   *toolchain.Toolchain
	logger      logger.Logger
}

// New creates a vendorer for a project
func New(projectRoot string, config *types.StagehandConfig, log logger.Logger) *Vendorer {
	return &Vendorer{
		projectRoot: projectRoot,
		config:      config,
		toolchain:   toolchain.New(projectRoot, config),
		logger:      log,
	}
}

// searchRoots returns the source roots for a package in resolution
// order. An explicit from pins the search to a single root.
func (v *Vendorer) searchRoots(from types.PackageSource) []string {
	var devlib string
	if v.config.DevLib != nil {
		devlib = v.config.DevLib.Path
	}

	switch from {
	case types.PackageSourceEnv:
		return []string{v.toolchain.PackagesDir()}
	case types.PackageSourceDevLib:
		return []string{devlib}
	default:
		return []string{v.toolchain.PackagesDir(), devlib}
	}
}

// Resolve locates a package's source path under the search roots. A
// directory named after the package wins over a single module file.
func (v *Vendorer) Resolve(spec types.PackageSpec) (string, Kind, error) {
	suffix := v.config.Runtime.ModuleSuffix()
	roots := v.searchRoots(spec.From)

	var searched []string
	for _, root := range roots {
		if root == "" {
			continue
		}
		searched = append(searched, root)

		dir := filepath.Join(root, spec.Name)
		if fsutil.DirectoryExists(dir) {
			return dir, KindTree, nil
		}

		if suffix != "" {
			file := filepath.Join(root, spec.Name+suffix)
			if fsutil.FileExists(file) {
				return file, KindFile, nil
			}
		}
	}

	return "", "", fmt.Errorf("%w: %s (searched %s)",
		ErrPackageNotFound, spec.Name, strings.Join(searched, ", "))
}

// Vendor copies a single package into the vendoring directory. The copy
// is unconditional; any stale destination is removed first so deleted
// source files do not linger.
func (v *Vendorer) Vendor(ctx context.Context, spec types.PackageSpec) (*VendoredPackage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	source, kind, err := v.Resolve(spec)
	if err != nil {
		return nil, err
	}

	destDir, destFile := v.destinations(spec.Name)
	for _, stale := range []string{destDir, destFile} {
		if err := fsutil.RemoveAll(stale); err != nil {
			return nil, fmt.Errorf("failed to remove stale copy of %s: %w", spec.Name, err)
		}
	}

	vendored := &VendoredPackage{
		Name:   spec.Name,
		From:   spec.From,
		Source: source,
		Kind:   kind,
	}

	switch kind {
	case KindTree:
		vendored.Dest = destDir
		if err := fsutil.CopyTree(source, destDir); err != nil {
			return nil, fmt.Errorf("failed to vendor %s: %w", spec.Name, err)
		}
		size, files, err := fsutil.TreeSize(destDir)
		if err != nil {
			return nil, fmt.Errorf("failed to measure vendored %s: %w", spec.Name, err)
		}
		vendored.SizeBytes = size
		vendored.Files = files
	case KindFile:
		vendored.Dest = destFile
		if err := fsutil.CopyFile(source, destFile); err != nil {
			return nil, fmt.Errorf("failed to vendor %s: %w", spec.Name, err)
		}
		size, err := fsutil.FileSize(destFile)
		if err != nil {
			return nil, fmt.Errorf("failed to measure vendored %s: %w", spec.Name, err)
		}
		vendored.SizeBytes = size
		vendored.Files = 1
	}

	if !v.config.Vendoring.IsPreserveMode() {
		if err := normalizeModes(vendored.Dest); err != nil {
			return nil, fmt.Errorf("failed to normalize modes for %s: %w", spec.Name, err)
		}
	}

	if v.logger != nil {
		v.logger.Info("Vendored package",
			logger.WithField("package", spec.Name),
			logger.WithField("kind", string(kind)),
			logger.WithField("files", vendored.Files),
			logger.WithField("size", fsutil.FormatBytes(vendored.SizeBytes)))
	}

	return vendored, nil
}

// VendorAll copies every configured package. Parallelism above 1 fans
// the copies out across a bounded SafeGroup; the default is strictly
// sequential.
func (v *Vendorer) VendorAll(ctx context.Context) ([]VendoredPackage, error) {
	packages := v.config.Packages
	if len(packages) == 0 {
		return nil, nil
	}

	if err := fsutil.CreateDirectory(v.toolchain.LibDir()); err != nil {
		return nil, fmt.Errorf("failed to create vendoring directory: %w", err)
	}

	results := make([]VendoredPackage, len(packages))

	parallelism := v.config.Vendoring.GetParallelism()
	if parallelism <= 1 {
		for i, spec := range packages {
			vendored, err := v.Vendor(ctx, spec)
			if err != nil {
				return nil, err
			}
			results[i] = *vendored
		}
		return results, nil
	}

	group, groupCtx := NewSafeGroup(ctx, v.logger)
	group.SetLimit(parallelism)

	for i, spec := range packages {
		i, spec := i, spec
		group.Go(func() error {
			vendored, err := v.Vendor(groupCtx, spec)
			if err != nil {
				return err
			}
			results[i] = *vendored
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

// Verify re-walks each configured package and compares the vendored
// copy against its source.
func (v *Vendorer) Verify(ctx context.Context) ([]VerifyResult, error) {
	results := make([]VerifyResult, 0, len(v.config.Packages))
	for _, spec := range v.config.Packages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		results = append(results, v.verifyPackage(spec))
	}
	return results, nil
}

func (v *Vendorer) verifyPackage(spec types.PackageSpec) VerifyResult {
	source, kind, err := v.Resolve(spec)
	if err != nil {
		return VerifyResult{Name: spec.Name, Status: VerifyMissing, Detail: "source not found"}
	}

	destDir, destFile := v.destinations(spec.Name)

	switch kind {
	case KindFile:
		if !fsutil.FileExists(destFile) {
			return VerifyResult{Name: spec.Name, Status: VerifyMissing, Detail: "not vendored"}
		}
		if detail, ok := hashesMatch(source, destFile); !ok {
			return VerifyResult{Name: spec.Name, Status: VerifyModified, Detail: detail}
		}
	case KindTree:
		if !fsutil.DirectoryExists(destDir) {
			return VerifyResult{Name: spec.Name, Status: VerifyMissing, Detail: "not vendored"}
		}
		if detail, ok := treesMatch(source, destDir); !ok {
			return VerifyResult{Name: spec.Name, Status: VerifyModified, Detail: detail}
		}
	}

	return VerifyResult{Name: spec.Name, Status: VerifyOK}
}

// Inventory reports the on-disk shape of every configured package. A
// package that has not been vendored yet appears with an empty kind.
func (v *Vendorer) Inventory() ([]VendoredPackage, error) {
	inventory := make([]VendoredPackage, 0, len(v.config.Packages))

	for _, spec := range v.config.Packages {
		entry := VendoredPackage{Name: spec.Name, From: spec.From}
		if source, _, err := v.Resolve(spec); err == nil {
			entry.Source = source
		}

		destDir, destFile := v.destinations(spec.Name)
		switch {
		case fsutil.DirectoryExists(destDir):
			entry.Dest = destDir
			entry.Kind = KindTree
			size, files, err := fsutil.TreeSize(destDir)
			if err != nil {
				return nil, fmt.Errorf("failed to measure %s: %w", spec.Name, err)
			}
			entry.SizeBytes = size
			entry.Files = files
		case fsutil.FileExists(destFile):
			entry.Dest = destFile
			entry.Kind = KindFile
			size, err := fsutil.FileSize(destFile)
			if err != nil {
				return nil, fmt.Errorf("failed to measure %s: %w", spec.Name, err)
			}
			entry.SizeBytes = size
			entry.Files = 1
		}

		inventory = append(inventory, entry)
	}

	return inventory, nil
}

// destinations returns both destination forms for a package name. Only
// one exists at a time; the other is removed before each copy.
func (v *Vendorer) destinations(name string) (dir, file string) {
	libDir := v.toolchain.LibDir()
	dir = filepath.Join(libDir, name)
	file = filepath.Join(libDir, name+v.config.Runtime.ModuleSuffix())
	return dir, file
}

func hashesMatch(source, dest string) (string, bool) {
	sourceHash, err := fsutil.FileHash(source)
	if err != nil {
		return fmt.Sprintf("failed to hash source: %v", err), false
	}
	destHash, err := fsutil.FileHash(dest)
	if err != nil {
		return fmt.Sprintf("failed to hash copy: %v", err), false
	}
	if sourceHash != destHash {
		return "content differs", false
	}
	return "", true
}

func treesMatch(source, dest string) (string, bool) {
	var detail string
	err := filepath.Walk(source, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		relPath, err := filepath.Rel(source, path)
		if err != nil {
			return err
		}

		destPath := filepath.Join(dest, relPath)
		if !fsutil.FileExists(destPath) {
			detail = fmt.Sprintf("%s missing", relPath)
			return filepath.SkipAll
		}
		if d, ok := hashesMatch(path, destPath); !ok {
			detail = fmt.Sprintf("%s: %s", relPath, d)
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return fmt.Sprintf("walk failed: %v", err), false
	}
	if detail != "" {
		return detail, false
	}

	// Extra files in the copy also count as drift
	_, sourceFiles, err := fsutil.TreeSize(source)
	if err != nil {
		return fmt.Sprintf("failed to measure source: %v", err), false
	}
	_, destFiles, err := fsutil.TreeSize(dest)
	if err != nil {
		return fmt.Sprintf("failed to measure copy: %v", err), false
	}
	if destFiles != sourceFiles {
		return fmt.Sprintf("file count differs (%d vs %d)", destFiles, sourceFiles), false
	}

	return "", true
}

func normalizeModes(path string) error {
	return filepath.Walk(path, func(walkPath string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return os.Chmod(walkPath, 0755)
		}
		return os.Chmod(walkPath, 0644)
	})
}
