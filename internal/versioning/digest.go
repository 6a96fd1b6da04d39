package versioning

import (
	"encoding/binary"
	"encoding/hex"
	"math"

	"golang.org/x/crypto/blake2b"

	"rtm/internal/model"
)

// Digest fingerprints the content of a snapshot. Two snapshots have the same
// digest when they hold the same entities with the same payloads, whatever
// version they were resolved at.
func Digest(snapshot *model.ProjectSnapshot) string {
	h, _ := blake2b.New256(nil)
	write := func(s string) {
		var n [8]byte
		binary.BigEndian.PutUint64(n[:], uint64(len(s)))
		h.Write(n[:])
		h.Write([]byte(s))
	}

	write("artifacts")
	for _, id := range sortedKeys(snapshot.Artifacts) {
		a := snapshot.Artifacts[id]
		write(id)
		write(a.Name)
		write(a.Type)
		write(a.Summary)
		write(a.Body)
		for _, k := range sortedKeys(a.CustomFields) {
			write(k)
			write(a.CustomFields[k])
		}
	}

	write("trace_links")
	for _, id := range sortedKeys(snapshot.TraceLinks) {
		l := snapshot.TraceLinks[id]
		write(id)
		write(l.SourceID)
		write(l.TargetID)
		var score [8]byte
		binary.BigEndian.PutUint64(score[:], math.Float64bits(l.Score))
		h.Write(score[:])
		write(string(l.TraceType))
		write(string(l.Approval))
		write(l.Explanation)
	}
	return hex.EncodeToString(h.Sum(nil))
}
