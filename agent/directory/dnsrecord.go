/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package directory

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"strings"
)

// errShortRecord is returned for a dnsRecord attribute value that is
// smaller than its declared length
var errShortRecord = errors.New("dnsRecord value truncated")

// dnsRecordHeader is the fixed 24 byte prefix of an AD-integrated DNS record
const dnsRecordHeader = 24

var dnsTypes = map[uint16]string{
	1:  "A",
	2:  "NS",
	5:  "CNAME",
	6:  "SOA",
	12: "PTR",
	15: "MX",
	16: "TXT",
	28: "AAAA",
	33: "SRV",
}

// parseDNSRecord decodes one value of the dnsRecord attribute. Multi-byte
// header fields are little endian except the TTL; record data is network order.
func parseDNSRecord(raw []byte) (typ string, ttl uint32, data string, err error) {
	if len(raw) < dnsRecordHeader {
		return "", 0, "", errShortRecord
	}

	length := int(binary.LittleEndian.Uint16(raw[0:2]))
	code := binary.LittleEndian.Uint16(raw[2:4])
	ttl = binary.BigEndian.Uint32(raw[12:16])

	body := raw[dnsRecordHeader:]
	if len(body) < length {
		return "", 0, "", errShortRecord
	}
	body = body[:length]

	typ, ok := dnsTypes[code]
	if !ok {
		typ = fmt.Sprintf("TYPE%d", code)
	}

	switch code {
	case 1:
		if len(body) != 4 {
			return typ, ttl, "", errShortRecord
		}
		data = net.IP(body).String()
	case 28:
		if len(body) != 16 {
			return typ, ttl, "", errShortRecord
		}
		data = net.IP(body).String()
	case 2, 5, 12:
		data, _, err = parseCountName(body)
	case 15:
		if len(body) < 3 {
			return typ, ttl, "", errShortRecord
		}
		var name string
		name, _, err = parseCountName(body[2:])
		data = fmt.Sprintf("%d %s", binary.BigEndian.Uint16(body[0:2]), name)
	case 33:
		if len(body) < 7 {
			return typ, ttl, "", errShortRecord
		}
		var name string
		name, _, err = parseCountName(body[6:])
		data = fmt.Sprintf("%d %d %d %s",
			binary.BigEndian.Uint16(body[0:2]),
			binary.BigEndian.Uint16(body[2:4]),
			binary.BigEndian.Uint16(body[4:6]),
			name)
	case 16:
		data, err = parseTXT(body)
	default:
		data = hex.EncodeToString(body)
	}
	return typ, ttl, data, err
}

// parseCountName decodes a DNS_COUNT_NAME: total length, label count, then
// length-prefixed labels. It returns the dotted name and bytes consumed.
func parseCountName(b []byte) (string, int, error) {
	if len(b) < 2 {
		return "", 0, errShortRecord
	}
	count := int(b[1])
	pos := 2
	labels := make([]string, 0, count)
	for i := 0; i < count; i++ {
		if pos >= len(b) {
			return "", 0, errShortRecord
		}
		n := int(b[pos])
		pos++
		if pos+n > len(b) {
			return "", 0, errShortRecord
		}
		labels = append(labels, string(b[pos:pos+n]))
		pos += n
	}
	return strings.Join(labels, ".") + ".", pos, nil
}

// parseTXT decodes a sequence of length-prefixed character strings
func parseTXT(b []byte) (string, error) {
	var parts []string
	for pos := 0; pos < len(b); {
		n := int(b[pos])
		pos++
		if pos+n > len(b) {
			return "", errShortRecord
		}
		parts = append(parts, fmt.Sprintf("%q", string(b[pos:pos+n])))
		pos += n
	}
	return strings.Join(parts, " "), nil
}
