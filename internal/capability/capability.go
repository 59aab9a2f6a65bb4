// Package capability infers which vendor service and characteristics carry
// the command protocol on a connected peripheral.
package capability

import (
	"fmt"
	"strings"

	"github.com/srg/printlink/internal/device"
)

// Set is the resolved protocol endpoint of one session.
type Set struct {
	ServiceUUID      string          `json:"serviceUUID" yaml:"service"`
	RequestCharUUID  string          `json:"requestCharacteristicUUID,omitempty" yaml:"request"`
	ResponseCharUUID string          `json:"responseCharacteristicUUID,omitempty" yaml:"response"`
	RequestProps     device.Property `json:"-" yaml:"-"`
	Pinned           bool            `json:"pinned,omitempty" yaml:"-"`
}

// Ready reports whether commands may be written.
func (s Set) Ready() bool {
	return s.ServiceUUID != "" && s.RequestCharUUID != ""
}

// Validate normalizes the ids and refuses standard SIG identifiers.
func (s Set) Validate() (Set, error) {
	if strings.TrimSpace(s.ServiceUUID) == "" || strings.TrimSpace(s.RequestCharUUID) == "" {
		return Set{}, fmt.Errorf("service and request characteristic are required")
	}
	if s.ResponseCharUUID == "" {
		s.ResponseCharUUID = s.RequestCharUUID
	}
	out := s
	for _, f := range []*string{&out.ServiceUUID, &out.RequestCharUUID, &out.ResponseCharUUID} {
		if _, err := device.ValidateUUID(*f); err != nil {
			return Set{}, err
		}
		if device.IsStandardUUID(*f) {
			return Set{}, device.NewError(device.KindStandardServiceWriteBlocked, "", fmt.Sprintf("%s is a standard Bluetooth SIG identifier", *f), nil)
		}
		*f = device.NormalizeUUID(*f)
	}
	return out, nil
}

func (s Set) String() string {
	return fmt.Sprintf("service=%s request=%s response=%s", s.ServiceUUID, s.RequestCharUUID, s.ResponseCharUUID)
}

// Select runs the vendor endpoint heuristic over a discovered tree.
//
// Standard 16-bit services and characteristics are never candidates. A vendor
// service with a write-capable characteristic wins; within it the request
// characteristic writes and preferably notifies, and the response
// characteristic is another notify/indicate one, else another writable one,
// else the request characteristic itself when it notifies.
func Select(services []device.ServiceInfo) (Set, bool) {
	var best Set
	bestScore := -1

	for _, svc := range services {
		if device.IsStandardUUID(svc.UUID) {
			continue
		}
		chars := vendorChars(svc.Characteristics)
		req, ok := pickRequest(chars)
		if !ok {
			continue
		}
		set := Set{
			ServiceUUID:      device.NormalizeUUID(svc.UUID),
			RequestCharUUID:  device.NormalizeUUID(req.UUID),
			ResponseCharUUID: pickResponse(chars, req),
			RequestProps:     req.Properties,
		}
		score := 1
		if req.Properties.CanNotify() || set.ResponseCharUUID != set.RequestCharUUID {
			score = 2
		}
		if score > bestScore {
			best, bestScore = set, score
		}
	}
	return best, bestScore > 0
}

func vendorChars(chars []device.CharacteristicInfo) []device.CharacteristicInfo {
	out := make([]device.CharacteristicInfo, 0, len(chars))
	for _, c := range chars {
		if !device.IsStandardUUID(c.UUID) {
			out = append(out, c)
		}
	}
	return out
}

func pickRequest(chars []device.CharacteristicInfo) (device.CharacteristicInfo, bool) {
	var fallback *device.CharacteristicInfo
	for i, c := range chars {
		if !c.Properties.CanWrite() {
			continue
		}
		if c.Properties.CanNotify() {
			return c, true
		}
		if fallback == nil {
			fallback = &chars[i]
		}
	}
	if fallback == nil {
		return device.CharacteristicInfo{}, false
	}
	return *fallback, true
}

func pickResponse(chars []device.CharacteristicInfo, req device.CharacteristicInfo) string {
	reqUUID := device.NormalizeUUID(req.UUID)
	for _, c := range chars {
		if device.NormalizeUUID(c.UUID) != reqUUID && c.Properties.CanNotify() {
			return device.NormalizeUUID(c.UUID)
		}
	}
	for _, c := range chars {
		if device.NormalizeUUID(c.UUID) != reqUUID && c.Properties.CanWrite() {
			return device.NormalizeUUID(c.UUID)
		}
	}
	if req.Properties.CanNotify() {
		return reqUUID
	}
	return ""
}
