package discovery

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/cuesync/cuesync-go/pkg/wire"
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// EncodeTXT creates the TXT record for info.
func EncodeTXT(info *Info) TXTRecordMap {
	txt := TXTRecordMap{
		TXTKeyRole:    string(info.Role),
		TXTKeyID:      string(info.ID),
		TXTKeySession: info.Session,
	}
	if info.SchedulePort != 0 {
		txt[TXTKeySchedulePort] = strconv.FormatUint(uint64(info.SchedulePort), 10)
	}
	return txt
}

// DecodeTXT parses a TXT record into Info. Port is left zero; it comes
// from the SRV record.
func DecodeTXT(txt TXTRecordMap) (*Info, error) {
	info := &Info{}

	role, ok := txt[TXTKeyRole]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyRole)
	}
	info.Role = Role(role)
	if !info.Role.Valid() {
		return nil, fmt.Errorf("%w: role %q", ErrInvalidTXTRecord, role)
	}

	id, ok := txt[TXTKeyID]
	if !ok || id == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyID)
	}
	info.ID = wire.PeerID(id)

	info.Session, ok = txt[TXTKeySession]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeySession)
	}

	if sp, ok := txt[TXTKeySchedulePort]; ok {
		n, err := strconv.ParseUint(sp, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("%w: schedule port %q", ErrInvalidTXTRecord, sp)
		}
		info.SchedulePort = uint16(n)
	}
	return info, nil
}

// TXTRecordsToStrings converts a TXTRecordMap to sorted "key=value" strings.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	result := make([]string, 0, len(txt))
	for k, v := range txt {
		result = append(result, k+"="+v)
	}
	slices.Sort(result)
	return result
}

// StringsToTXTRecords parses "key=value" strings into a TXTRecordMap.
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap)
	for _, s := range strs {
		k, v, found := strings.Cut(s, "=")
		if k == "" {
			continue
		}
		if !found {
			v = ""
		}
		txt[k] = v
	}
	return txt
}

// InstanceName returns the DNS-SD instance name for info, truncated to the
// DNS label limit.
func InstanceName(info *Info) string {
	name := string(info.ID)
	if info.Session != "" {
		name = info.Session + "-" + name
	}
	if len(name) > MaxInstanceNameLen {
		name = name[:MaxInstanceNameLen]
	}
	return name
}
