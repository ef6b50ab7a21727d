package guest

import (
	"fmt"
	"strings"
	"sync"

	"github.com/lestrrat-go/libxml2"
	"github.com/lestrrat-go/libxml2/types"

	"github.com/vhostmd/vhostmd-go/daemon/buffer"
)

// Cache holds the most recently fetched disk payload together with its
// checksum, replacing it only when the checksum changes. Each GetMetric
// call still parses the held payload and runs the XPath lookup; parse
// results are not cached.
type Cache struct {
	mu       sync.Mutex
	checksum uint32
	payload  []byte
}

// GetMetric returns the type and value of the metric name/context. It calls
// fetch on every call and replaces the cached payload only when the fetched
// payload's checksum differs from the cached one.
func (c *Cache) GetMetric(name, context string, fetch func() ([]byte, error)) (string, string, error) {
	payload, err := fetch()
	if err != nil {
		return "", "", err
	}

	c.mu.Lock()
	sum := buffer.Checksum(payload)
	if sum != c.checksum || c.payload == nil {
		c.checksum = sum
		c.payload = payload
	}
	cached := c.payload
	c.mu.Unlock()

	return lookupMetric(cached, name, context)
}

// lookupMetric XPath-queries xmlDoc for //metrics/metric[name=name]
// [@context=context] and returns its type attribute and value text.
func lookupMetric(xmlDoc []byte, name, context string) (typ string, value string, err error) {
	doc, err := libxml2.Parse(xmlDoc)
	if err != nil {
		return "", "", fmt.Errorf("guest: parsing metrics document: %w", err)
	}
	defer doc.Free()

	expr := fmt.Sprintf("//metrics/metric[name=%s][@context=%s]", xpathLiteral(name), xpathLiteral(context))
	result, err := doc.Find(expr)
	if err != nil {
		return "", "", fmt.Errorf("guest: evaluating xpath for metric %q: %w", name, err)
	}
	defer result.Free()

	iter := result.NodeIter()
	if !iter.Next() {
		return "", "", fmt.Errorf("guest: metric %q (context %q) not found", name, context)
	}

	elem, ok := iter.Node().(types.Element)
	if !ok {
		return "", "", fmt.Errorf("guest: metric %q: unexpected node type", name)
	}

	typAttr, err := elem.GetAttribute("type")
	if err != nil {
		return "", "", fmt.Errorf("guest: metric %q: missing type attribute: %w", name, err)
	}

	valueResult, err := elem.Find("value")
	if err != nil {
		return "", "", fmt.Errorf("guest: evaluating xpath for metric %q value: %w", name, err)
	}
	defer valueResult.Free()

	valueIter := valueResult.NodeIter()
	if !valueIter.Next() {
		return "", "", fmt.Errorf("guest: metric %q: missing <value>", name)
	}
	text, err := valueIter.Node().TextContent()
	if err != nil {
		return "", "", fmt.Errorf("guest: metric %q: reading value text: %w", name, err)
	}

	return typAttr.Value(), text, nil
}

// xpathLiteral quotes s as an XPath string literal. XPath 1.0 has no
// in-literal escape, so a value containing a single quote is instead
// wrapped in double quotes; one containing both is split across a
// concat() call.
func xpathLiteral(s string) string {
	switch {
	case !strings.Contains(s, "'"):
		return "'" + s + "'"
	case !strings.Contains(s, `"`):
		return `"` + s + `"`
	default:
		parts := strings.Split(s, "'")
		for i, p := range parts {
			parts[i] = "'" + p + "'"
		}
		return "concat(" + strings.Join(parts, `, "'", `) + ")"
	}
}
