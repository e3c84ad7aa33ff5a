package prediction

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/polybot/yolo-service/internal/errors"
)

// DiskGuard refuses work when the filesystem holding the scratch area is
// fuller than a threshold.
type DiskGuard struct {
	maxPercent float64
	usage      func(path string) (float64, error)
}

// NewDiskGuard returns nil when maxPercent is zero, which disables the check.
func NewDiskGuard(maxPercent float64) *DiskGuard {
	if maxPercent <= 0 {
		return nil
	}
	return &DiskGuard{maxPercent: maxPercent, usage: usedPercent}
}

func usedPercent(path string) (float64, error) {
	stat, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}
	return stat.UsedPercent, nil
}

// existingDir walks up from path to the nearest directory that exists, since
// the scratch directories are created lazily.
func existingDir(path string) string {
	dir := filepath.Clean(path)
	for {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return dir
		}
		dir = parent
	}
}

// Check implements ResourceGuard.
func (g *DiskGuard) Check(path string) error {
	if g == nil {
		return nil
	}
	dir := existingDir(path)
	used, err := g.usage(dir)
	if err != nil {
		return errors.New(err).
			Component(componentPrediction).
			Category(errors.CategorySystem).
			Context("path", dir).
			Build()
	}
	if used > g.maxPercent {
		return errors.New(fmt.Errorf("disk usage %.1f%% exceeds limit of %.1f%%", used, g.maxPercent)).
			Component(componentPrediction).
			Category(errors.CategoryDiskUsage).
			Context("path", dir).
			Context("used_percent", used).
			Build()
	}
	return nil
}
