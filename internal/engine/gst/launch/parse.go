package launch

import (
	"bufio"
	"regexp"
	"strconv"
	"strings"
)

var levelField = regexp.MustCompile(`(\w+)=\(GValueArray\)<\s*([^>]*)>`)

// ParseLevel extracts the per-channel dB arrays of a serialized level
// message structure, e.g. peak=(GValueArray)< -20.5, -21 >
func ParseLevel(structure string) map[string][]float64 {
	out := map[string][]float64{}
	for _, m := range levelField.FindAllStringSubmatch(structure, -1) {
		var values []float64
		for _, part := range strings.Split(m[2], ",") {
			part = strings.TrimSpace(part)
			part = strings.TrimPrefix(part, "(double)")
			if part == "" {
				continue
			}
			f, err := strconv.ParseFloat(part, 64)
			if err != nil {
				continue
			}
			values = append(values, f)
		}
		out[m[1]] = values
	}
	return out
}

// Source is one pulse source from pactl
type Source struct {
	Name    string
	Monitor bool
}

// ParseShortSources reads `pactl list short sources`
func ParseShortSources(out string) []Source {
	var sources []Source
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		fields := strings.Split(sc.Text(), "\t")
		if len(fields) < 2 {
			continue
		}
		name := strings.TrimSpace(fields[1])
		if name == "" {
			continue
		}
		sources = append(sources, Source{Name: name, Monitor: strings.HasSuffix(name, ".monitor")})
	}
	return sources
}

// Pulse names for the server default devices
const (
	DefaultDeviceID = "default"
	DefaultMonitor  = "@DEFAULT_MONITOR@"
)

// PulseDevice maps a device_id to the pulsesrc device property. Speakers are
// captured through their monitor source; an empty result leaves the choice
// to the sound server.
func PulseDevice(speaker bool, id string) string {
	if id == "" || id == DefaultDeviceID {
		if speaker {
			return DefaultMonitor
		}
		return ""
	}
	return id
}

// DeviceNames lists the monitor sources (speakers) or the capture sources
// (microphones) with the server default first.
func DeviceNames(sources []Source, speakers bool) []string {
	names := []string{DefaultDeviceID}
	for _, s := range sources {
		if s.Monitor == speakers {
			names = append(names, s.Name)
		}
	}
	return names
}
