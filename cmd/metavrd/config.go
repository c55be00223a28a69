package main

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/kfsvr/metavr/pkg/fileutil"
	"github.com/kfsvr/metavr/vrconfig"
)

// loadProperties reads a flat "key = value" property file, one
// assignment per line, blank lines and lines starting with "#"
// ignored, into the map vrconfig.FromProperties expects.
func loadProperties(fpath string) (map[string]string, error) {
	f, err := fileutil.OpenToRead(fpath)
	if err != nil {
		return nil, fmt.Errorf("metavrd: open %s: %w", fpath, err)
	}
	defer f.Close()

	props := make(map[string]string)
	sc := bufio.NewScanner(f)
	for lineNum := 1; sc.Scan(); lineNum++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		eq := strings.IndexByte(line, '=')
		if eq < 0 {
			return nil, fmt.Errorf("metavrd: %s:%d: missing '=' in %q", fpath, lineNum, line)
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		props[key] = val
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("metavrd: scan %s: %w", fpath, err)
	}
	return props, nil
}

// loadConfig reads fpath and decodes it into a Configuration, logging
// every decode warning rather than failing on it, per SPEC_FULL.md's
// configuration-discovery supplement.
func loadConfig(fpath string) (*vrconfig.Configuration, error) {
	props, err := loadProperties(fpath)
	if err != nil {
		return nil, err
	}
	config, warnings, err := vrconfig.FromProperties(props)
	if err != nil {
		return nil, fmt.Errorf("metavrd: decode %s: %w", fpath, err)
	}
	for _, w := range warnings {
		daemonLogger.Warningf("%s: %s", fpath, w)
	}
	return config, nil
}

func parseNodeId(s string) (vrconfig.NodeId, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("metavrd: bad node id %q: %w", s, err)
	}
	return vrconfig.NodeId(n), nil
}
