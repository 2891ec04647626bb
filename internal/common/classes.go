package common

import (
	"fmt"
	"os"
	"strconv"

	"github.com/pelletier/go-toml/v2"
)

// ClassMap resolves numeric detector class IDs to human-readable labels.
// Loaded from a TOML file of the form:
//
//	[classes]
//	0 = "person"
//	1 = "helmet"
type ClassMap struct {
	labels map[int]string
}

type classesFile struct {
	Classes map[string]string `toml:"classes"`
}

// LoadClassMap reads a class-map TOML file.
// A missing file is not an error - detections then carry generated labels.
func LoadClassMap(path string) (*ClassMap, error) {
	cm := &ClassMap{labels: make(map[int]string)}

	if path == "" {
		return cm, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cm, nil
		}
		return nil, fmt.Errorf("failed to read classes file %s: %w", path, err)
	}

	var parsed classesFile
	if err := toml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse classes file %s: %w", path, err)
	}

	for key, label := range parsed.Classes {
		id, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("invalid class ID %q in %s: %w", key, path, err)
		}
		cm.labels[id] = label
	}

	return cm, nil
}

// Label returns the label for a class ID.
// Unknown IDs render as "class_<id>" so annotation never fails on a
// model/class-map mismatch.
func (c *ClassMap) Label(classID int) string {
	if label, ok := c.labels[classID]; ok {
		return label
	}
	return "class_" + strconv.Itoa(classID)
}

// Len returns the number of known classes
func (c *ClassMap) Len() int {
	return len(c.labels)
}
