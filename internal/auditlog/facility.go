package auditlog

import "strings"

// facilityCodes maps syslog facility names, as configured by
// log_facility (spec.md §3), to their RFC 5424 facility numbers.
var facilityCodes = map[string]int{
	"kern":     0,
	"user":     1,
	"mail":     2,
	"daemon":   3,
	"auth":     4,
	"syslog":   5,
	"lpr":      6,
	"news":     7,
	"uucp":     8,
	"cron":     9,
	"authpriv": 10,
	"ftp":      11,
	"local0":   16,
	"local1":   17,
	"local2":   18,
	"local3":   19,
	"local4":   20,
	"local5":   21,
	"local6":   22,
	"local7":   23,
}

// facilityCode resolves name to an RFC 5424 facility number, falling
// back to "auth" (4) for unrecognized names.
func facilityCode(name string) int {
	if code, ok := facilityCodes[strings.ToLower(strings.TrimSpace(name))]; ok {
		return code
	}
	return facilityCodes["auth"]
}

// severityInfo is the RFC 5424 severity used for all audit records;
// audit is a record of fact, not a diagnostic, so every record is
// emitted at "informational" (6) and callers distinguish outcomes via
// the Decision field rather than syslog severity.
const severityInfo = 6

// priority computes the RFC 5424 PRI value (facility*8 + severity).
func priority(facilityName string) int {
	return facilityCode(facilityName)*8 + severityInfo
}
