package xid

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"
)

func New(prefix string) string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixNano(), hex.EncodeToString(buf))
}

// BillNo returns a short human-readable bill number such as INV-261016-4821.
func BillNo(now time.Time) string {
	buf := make([]byte, 4)
	n := uint32(now.UnixNano())
	if _, err := rand.Read(buf); err == nil {
		n = binary.BigEndian.Uint32(buf)
	}
	return fmt.Sprintf("INV-%s-%04d", now.Format("060102"), n%10000)
}
