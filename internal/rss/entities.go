package rss

import (
	"bytes"
	"encoding/xml"
	"regexp"
	"strconv"
)

var (
	entityRef  = regexp.MustCompile(`&([A-Za-z][A-Za-z0-9]*);`)
	cdataOpen  = []byte("<![CDATA[")
	cdataClose = []byte("]]>")
)

var xmlEntities = map[string]bool{"amp": true, "lt": true, "gt": true, "quot": true, "apos": true}

// mapHTMLEntities rewrites HTML named entities such as &nbsp; to numeric
// character references so the strict decoder accepts them. CDATA sections
// are copied untouched and unknown names are left for the decoder to reject.
func mapHTMLEntities(doc []byte) []byte {
	if !bytes.ContainsRune(doc, '&') {
		return doc
	}
	var out bytes.Buffer
	out.Grow(len(doc))
	for len(doc) > 0 {
		i := bytes.Index(doc, cdataOpen)
		if i < 0 {
			out.Write(numericRefs(doc))
			break
		}
		out.Write(numericRefs(doc[:i]))
		doc = doc[i:]

		j := bytes.Index(doc, cdataClose)
		if j < 0 {
			out.Write(doc)
			break
		}
		j += len(cdataClose)
		out.Write(doc[:j])
		doc = doc[j:]
	}
	return out.Bytes()
}

func numericRefs(b []byte) []byte {
	return entityRef.ReplaceAllFunc(b, func(m []byte) []byte {
		name := string(m[1 : len(m)-1])
		if xmlEntities[name] {
			return m
		}
		text, ok := xml.HTMLEntity[name]
		if !ok {
			return m
		}
		var ref []byte
		for _, r := range text {
			ref = append(ref, "&#"...)
			ref = strconv.AppendInt(ref, int64(r), 10)
			ref = append(ref, ';')
		}
		return ref
	})
}
