// Package config loads a node's subscription manifest from an INI file,
// the way the teacher's pkg/od parses EDS descriptors — except where EDS
// sections key off (index, subindex), a subscription manifest's sections
// key off transfer kind and port id.
package config

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"gopkg.in/ini.v1"

	"github.com/cyphal-go/gocyphal/pkg/cyphal"
)

// sectionPattern matches one subscription section, e.g.
// "[message:100]" or "[request:42]"/"[response:42]".
var sectionPattern = regexp.MustCompile(`^(message|request|response):(\d+)$`)

var kindByName = map[string]cyphal.TransferKind{
	"message":  cyphal.TransferKindMessage,
	"request":  cyphal.TransferKindRequest,
	"response": cyphal.TransferKindResponse,
}

// Load parses a subscription manifest from path. Each matching section
// becomes one cyphal.Subscription; sections that don't match
// sectionPattern (e.g. a leading "DEFAULT" section) are ignored.
func Load(path string) ([]cyphal.Subscription, error) {
	file, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}
	return parse(file)
}

// LoadBytes parses a subscription manifest already in memory, for tests
// and for embedding a default manifest.
func LoadBytes(raw []byte) ([]cyphal.Subscription, error) {
	file, err := ini.Load(raw)
	if err != nil {
		return nil, fmt.Errorf("config: parse manifest: %w", err)
	}
	return parse(file)
}

func parse(file *ini.File) ([]cyphal.Subscription, error) {
	var subs []cyphal.Subscription
	for _, section := range file.Sections() {
		m := sectionPattern.FindStringSubmatch(section.Name())
		if m == nil {
			continue
		}

		kind := kindByName[m[1]]
		portID, err := strconv.ParseUint(m[2], 10, 16)
		if err != nil {
			return nil, fmt.Errorf("config: section %q: %w", section.Name(), err)
		}
		if !cyphal.PortID(portID).Valid() {
			return nil, fmt.Errorf("config: section %q: port id out of range", section.Name())
		}

		extent, err := section.Key("Extent").Int()
		if err != nil {
			return nil, fmt.Errorf("config: section %q: Extent: %w", section.Name(), err)
		}

		timeoutMs := section.Key("TimeoutMs").MustInt(0)

		subs = append(subs, cyphal.Subscription{
			Kind:    kind,
			PortID:  cyphal.PortID(portID),
			Extent:  extent,
			Timeout: time.Duration(timeoutMs) * time.Millisecond,
		})
	}
	return subs, nil
}
