package redisclusterutil

import (
	"math/rand"
	"strings"

	"github.com/joomcode/redisguard/redis"
)

// NumSlots is a number of cluster slots.
const NumSlots = 1 << 14

// HashTag returns part of key that is used for slot calculation.
// If key contains non-empty "{...}" section, its content is returned. Otherwise whole key is returned.
func HashTag(key string) string {
	if s := strings.IndexByte(key, '{'); s >= 0 {
		if e := strings.IndexByte(key[s+1:], '}'); e > 0 {
			return key[s+1 : s+1+e]
		}
	}
	return key
}

// Slot returns slot for a key.
func Slot(key string) uint16 {
	return crc16s(HashTag(key)) & (NumSlots - 1)
}

// ReqSlot returns slot number targeted by this command.
func ReqSlot(req redis.Request) (uint16, bool) {
	key, ok := req.Key()
	if key == "RANDOMKEY" && !ok {
		return uint16(rand.Intn(NumSlots)), true
	}
	return Slot(key), ok
}

// BatchSlot returns slot common for all requests in batch (if there is such common slot).
func BatchSlot(reqs []redis.Request) (uint16, bool) {
	var slot uint16
	var set bool
	for _, req := range reqs {
		s, ok := ReqSlot(req)
		if !ok {
			continue
		}
		if !set {
			slot = s
			set = true
		} else if slot != s {
			return 0, false
		}
	}
	return slot, set
}

// BatchKey returns first key from a batch that is targeted to common slot.
func BatchKey(reqs []redis.Request) (string, bool) {
	var key string
	var slot uint16
	var set bool
	for _, req := range reqs {
		k, ok := req.Key()
		if !ok {
			continue
		}
		s := Slot(k)
		if !set {
			key, slot = k, s
			set = true
		} else if slot != s {
			return "", false
		}
	}
	return key, set
}
