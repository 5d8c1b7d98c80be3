package dnswire

// SOAMinimum returns the MINIMUM field of an SOA record, used per RFC 2308
// as the negative-caching TTL ceiling (response cache §4.4) when no more
// specific TTL is available. Mirrors the teacher's extractSOAMinimum, but
// reads the already-decoded SOAData rather than re-parsing raw RDATA.
func SOAMinimum(rr Record) (uint32, bool) {
	if RecordType(rr.Type) != TypeSOA {
		return 0, false
	}
	soa, ok := rr.Data.(SOAData)
	if !ok {
		return 0, false
	}
	return soa.Minimum, true
}
