package password

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const algorithmID = "argon2id"

var errMalformedHash = errors.New("malformed argon2id hash")

var b64 = base64.RawStdEncoding

// params are the Argon2id cost settings carried in a PHC string.
type params struct {
	memory      uint32
	time        uint32
	parallelism uint8
}

// weakerThan reports whether any cost in p is below the same cost in q.
func (p params) weakerThan(q params) bool {
	return p.memory < q.memory || p.time < q.time || p.parallelism < q.parallelism
}

// phc is a decoded $argon2id$v=19$m=..,t=..,p=..$salt$key string.
type phc struct {
	params
	salt []byte
	key  []byte
}

func (h phc) String() string {
	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID, argon2.Version, h.memory, h.time, h.parallelism,
		b64.EncodeToString(h.salt), b64.EncodeToString(h.key))
}

func decodePHC(s string) (phc, error) {
	fields := strings.Split(s, "$")
	if len(fields) != 6 || fields[0] != "" || fields[1] != algorithmID {
		return phc{}, errMalformedHash
	}
	if fields[2] != "v="+strconv.Itoa(argon2.Version) {
		return phc{}, fmt.Errorf("%w: unsupported version %q", errMalformedHash, fields[2])
	}

	p, err := decodeParams(fields[3])
	if err != nil {
		return phc{}, err
	}
	salt, err := decodeB64(fields[4])
	if err != nil || len(salt) < minSaltLength {
		return phc{}, fmt.Errorf("%w: salt", errMalformedHash)
	}
	key, err := decodeB64(fields[5])
	if err != nil || len(key) < minKeyLength {
		return phc{}, fmt.Errorf("%w: key", errMalformedHash)
	}
	return phc{params: p, salt: salt, key: key}, nil
}

// decodeB64 accepts padded and unpadded standard base64.
func decodeB64(s string) ([]byte, error) {
	return b64.DecodeString(strings.TrimRight(s, "="))
}

func decodeParams(s string) (params, error) {
	var p params
	seen := map[string]bool{}
	for _, pair := range strings.Split(s, ",") {
		name, raw, ok := strings.Cut(pair, "=")
		if !ok || seen[name] {
			return params{}, fmt.Errorf("%w: parameters", errMalformedHash)
		}
		seen[name] = true

		bits := 32
		if name == "p" {
			bits = 8
		}
		v, err := strconv.ParseUint(raw, 10, bits)
		if err != nil || v == 0 {
			return params{}, fmt.Errorf("%w: %s", errMalformedHash, name)
		}
		switch name {
		case "m":
			p.memory = uint32(v)
		case "t":
			p.time = uint32(v)
		case "p":
			p.parallelism = uint8(v)
		default:
			return params{}, fmt.Errorf("%w: unknown parameter %q", errMalformedHash, name)
		}
	}
	if len(seen) != 3 || p.memory < minMemoryKB {
		return params{}, fmt.Errorf("%w: parameters", errMalformedHash)
	}
	return p, nil
}
