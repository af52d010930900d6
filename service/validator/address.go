package validator

import (
	"encoding/base32"
	"encoding/binary"
	"encoding/hex"
	"hash/crc32"
	"strings"
	"unicode"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"

	"github.com/brojonat/ledgerwallet/service/tokens"
)

const maxAddressLength = 128

// ValidateAddress checks that address is structurally valid for the
// address scheme of token. It does not check that the address exists.
func (v *Validator) ValidateAddress(address, token string) Result {
	rule, bad := v.lookup(token)
	if bad != nil {
		return *bad
	}
	if address == "" {
		return fail(ReasonInvalidFormat, "recipient address is required")
	}
	if len(address) > maxAddressLength {
		return fail(ReasonInvalidFormat, "recipient address is longer than %d characters", maxAddressLength)
	}
	if strings.IndexFunc(address, func(r rune) bool { return unicode.IsSpace(r) || unicode.IsControl(r) }) >= 0 {
		return fail(ReasonInvalidFormat, "recipient address must not contain whitespace")
	}

	switch rule.AddressScheme {
	case tokens.SchemeICP:
		if isPrincipal(address) || isAccountIdentifier(address) {
			return OK
		}
		return fail(ReasonInvalidFormat, "%q is not a valid principal or account identifier for %s", address, rule.Symbol)
	case tokens.SchemeSolana:
		if _, err := solana.PublicKeyFromBase58(address); err != nil {
			return fail(ReasonInvalidFormat, "%q is not a valid Solana address", address)
		}
		return OK
	case tokens.SchemeEVM:
		return checkEVMAddress(address)
	}
	return fail(ReasonInvalidFormat, "%s has no supported address scheme", rule.Symbol)
}

var principalEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

const maxPrincipalBytes = 29

// isPrincipal accepts the textual principal form: lowercase base32 of a
// CRC32 checksum followed by the principal bytes, in dash separated groups
// of five characters.
func isPrincipal(s string) bool {
	if s != strings.ToLower(s) {
		return false
	}
	data, err := principalEncoding.DecodeString(strings.ToUpper(strings.ReplaceAll(s, "-", "")))
	if err != nil || len(data) < 4 || len(data)-4 > maxPrincipalBytes {
		return false
	}
	if crc32.ChecksumIEEE(data[4:]) != binary.BigEndian.Uint32(data[:4]) {
		return false
	}
	return formatPrincipal(data[4:]) == s
}

// formatPrincipal renders principal bytes in their textual form.
func formatPrincipal(b []byte) string {
	buf := make([]byte, 4, 4+len(b))
	binary.BigEndian.PutUint32(buf, crc32.ChecksumIEEE(b))
	buf = append(buf, b...)
	enc := strings.ToLower(principalEncoding.EncodeToString(buf))

	var sb strings.Builder
	for i := 0; i < len(enc); i += 5 {
		if i > 0 {
			sb.WriteByte('-')
		}
		end := i + 5
		if end > len(enc) {
			end = len(enc)
		}
		sb.WriteString(enc[i:end])
	}
	return sb.String()
}

// isAccountIdentifier accepts a 32 byte hex account identifier whose first
// four bytes are the CRC32 of the remaining 28.
func isAccountIdentifier(s string) bool {
	if len(s) != 64 {
		return false
	}
	data, err := hex.DecodeString(s)
	if err != nil {
		return false
	}
	return crc32.ChecksumIEEE(data[4:]) == binary.BigEndian.Uint32(data[:4])
}

func checkEVMAddress(s string) Result {
	if !strings.HasPrefix(s, "0x") || !common.IsHexAddress(s) {
		return fail(ReasonInvalidFormat, "%q is not a 0x-prefixed 20 byte hex address", s)
	}
	body := s[2:]
	if body == strings.ToLower(body) || body == strings.ToUpper(body) {
		return OK
	}
	if common.HexToAddress(s).Hex() != s {
		return fail(ReasonInvalidFormat, "%q fails the mixed-case checksum", s)
	}
	return OK
}
