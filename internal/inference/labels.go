package inference

import (
	"bufio"
	_ "embed"
	"fmt"
	"os"
	"strings"
)

//go:embed coco.names
var cocoNames string

// CocoLabels returns the 80 COCO class names in model index order.
func CocoLabels() []string {
	return parseLabels(cocoNames)
}

// LoadLabels reads one label per line. An empty path returns the COCO labels.
func LoadLabels(path string) ([]string, error) {
	if path == "" {
		return CocoLabels(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read labels: %w", err)
	}
	labels := parseLabels(string(data))
	if len(labels) == 0 {
		return nil, fmt.Errorf("labels file %s is empty", path)
	}
	return labels, nil
}

func parseLabels(s string) []string {
	var labels []string
	sc := bufio.NewScanner(strings.NewReader(s))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			labels = append(labels, line)
		}
	}
	return labels
}
