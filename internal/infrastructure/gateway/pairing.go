package gateway

import (
	"time"

	"github.com/apascualco/pairgate/internal/domain"
	"github.com/spf13/cast"
)

// Field priority for pairing payloads. The first non-empty value wins, so a
// null in a higher-priority field never masks a valid code further down.
var (
	pairingCodePaths = [][]string{
		{"pairing", "code"},
		{"qrcode", "pairingCode"},
		{"pairingCode"},
	}
	qrCodePaths = [][]string{
		{"qrcode", "base64"},
		{"qrcode"},
		{"base64"},
	}
	expirationPaths = [][]string{
		{"pairingCodeExpiration"},
		{"qrcode", "pairingCodeExpiration"},
	}
)

// ExtractPairingInfo reads a pairing payload out of any of the gateway's
// response shapes (create, connect, fetchInstances rows).
func ExtractPairingInfo(payload map[string]any) *domain.PairingInfo {
	info := &domain.PairingInfo{
		QRCode:      firstString(payload, qrCodePaths),
		PairingCode: firstString(payload, pairingCodePaths),
	}
	if secs := firstInt(payload, expirationPaths); secs > 0 {
		info.ExpiresIn = time.Duration(secs) * time.Second
	}
	return info
}

func lookup(payload map[string]any, path []string) (any, bool) {
	var cur any = payload
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[key]; !ok {
			return nil, false
		}
	}
	return cur, cur != nil
}

func firstString(payload map[string]any, paths [][]string) string {
	for _, path := range paths {
		v, ok := lookup(payload, path)
		if !ok {
			continue
		}
		if _, isBool := v.(bool); isBool {
			continue
		}
		s, err := cast.ToStringE(v)
		if err != nil || s == "" || s == "null" {
			continue
		}
		return s
	}
	return ""
}

func firstInt(payload map[string]any, paths [][]string) int64 {
	for _, path := range paths {
		v, ok := lookup(payload, path)
		if !ok {
			continue
		}
		n, err := cast.ToInt64E(v)
		if err != nil || n <= 0 {
			continue
		}
		return n
	}
	return 0
}

// instanceFromRow reads one fetchInstances row, flat or nested under "instance".
func instanceFromRow(row map[string]any) domain.GatewayInstance {
	nested, _ := row["instance"].(map[string]any)

	name := firstString(row, [][]string{{"name"}, {"instanceName"}, {"instance", "instanceName"}, {"instance", "name"}})
	state := firstString(row, [][]string{{"connectionStatus"}, {"status"}, {"instance", "status"}, {"instance", "state"}})

	pairing := ExtractPairingInfo(row)
	if nested != nil {
		pairing.Merge(ExtractPairingInfo(nested))
	}

	return domain.GatewayInstance{
		Name:    name,
		State:   domain.ParseConnectionState(state),
		Pairing: *pairing,
	}
}
