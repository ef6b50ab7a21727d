// Package dtdvalidate wraps libxml2's DTD validator, used both to validate
// the vhostmd configuration document at load time and to validate each
// fragment of an xml-typed metric's action output before it is accepted
// into a tick's metrics document.
package dtdvalidate

import (
	_ "embed"
	"fmt"
	"sync"

	"github.com/lestrrat-go/libxml2"
	"github.com/lestrrat-go/libxml2/dtd"
)

//go:embed assets/vhostmd.dtd
var vhostmdDTDSource []byte

//go:embed assets/metric.dtd
var metricDTDSource []byte

var (
	once          sync.Once
	vhostmdDTD    *dtd.DTD
	metricDTD     *dtd.DTD
	loadErr       error
	loadDTDsMutex sync.Mutex
)

// loadDTDs lazily parses the embedded DTD sources. libxml2's DTD handles
// are not safe to share across concurrent Validate calls, so access to the
// parsed DTDs is additionally serialized by loadDTDsMutex in Validate*.
func loadDTDs() error {
	once.Do(func() {
		var err error
		vhostmdDTD, err = dtd.Parse(vhostmdDTDSource)
		if err != nil {
			loadErr = fmt.Errorf("parsing embedded vhostmd.dtd: %w", err)
			return
		}
		metricDTD, err = dtd.Parse(metricDTDSource)
		if err != nil {
			loadErr = fmt.Errorf("parsing embedded metric.dtd: %w", err)
			return
		}
	})
	return loadErr
}

// ValidateConfigDocument parses xmlDoc and validates it against the
// vhostmd configuration DTD (root element <vhostmd>). It returns the
// parse/validation error; callers must treat any error here as fatal,
// matching the "entire document malformed or fails DTD" rule.
func ValidateConfigDocument(xmlDoc []byte) error {
	if err := loadDTDs(); err != nil {
		return err
	}

	doc, err := libxml2.Parse(xmlDoc)
	if err != nil {
		return fmt.Errorf("parsing configuration document: %w", err)
	}
	defer doc.Free()

	loadDTDsMutex.Lock()
	defer loadDTDsMutex.Unlock()

	if err := doc.Validate(vhostmdDTD); err != nil {
		return fmt.Errorf("configuration document failed DTD validation: %w", err)
	}
	return nil
}

// ValidateMetricFragment parses and validates a single "<metric>...
// </metric>" fragment against the standalone metric DTD. It is used to
// accept or reject each piece of an xml-typed metric's action output.
func ValidateMetricFragment(fragment []byte) error {
	if err := loadDTDs(); err != nil {
		return err
	}

	doc, err := libxml2.Parse(fragment)
	if err != nil {
		return fmt.Errorf("parsing metric fragment: %w", err)
	}
	defer doc.Free()

	loadDTDsMutex.Lock()
	defer loadDTDsMutex.Unlock()

	if err := doc.Validate(metricDTD); err != nil {
		return fmt.Errorf("metric fragment failed DTD validation: %w", err)
	}
	return nil
}
