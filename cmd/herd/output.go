package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"nickandperla.net/herd/internal/config"
	"nickandperla.net/herd/pkg/herd"
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("cbor: failed to create canonical enc mode: %v", err))
	}
	cborEncMode = em
}

// objectRecord is one object in the CBOR dump.
type objectRecord struct {
	Object uint32         `cbor:"1,keyasint"`
	Class  string         `cbor:"2,keyasint,omitempty"`
	Vars   map[string]any `cbor:"3,keyasint"`
}

// objectVars returns the requested variables an object has written, or all
// of them when vars is empty.
func objectVars(runtime *herd.Runtime, obj herd.ObjectID, vars []string) ([]string, []herd.Value, error) {
	names := vars
	if len(names) == 0 {
		var err error
		names, err = runtime.ObjectVariables(obj)
		if err != nil {
			return nil, nil, err
		}
	}
	var found []string
	var values []herd.Value
	for _, name := range names {
		v, ok, err := runtime.ObjectVariable(obj, name)
		if err != nil {
			return nil, nil, err
		}
		if ok {
			found = append(found, name)
			values = append(values, v)
		}
	}
	return found, values, nil
}

func objectClass(runtime *herd.Runtime, obj herd.ObjectID) (string, error) {
	id, err := runtime.ObjectClass(obj)
	if err != nil {
		return "", err
	}
	name, _ := runtime.ClassName(id)
	return name, nil
}

func writeOutput(w io.Writer, runtime *herd.Runtime, out config.Output) error {
	if out.Format == config.FormatCBOR {
		return writeCBOR(w, runtime, out.Vars)
	}
	return writeText(w, runtime, out.Vars)
}

// writeText prints one line per object: "#id Class: name=value ...".
func writeText(w io.Writer, runtime *herd.Runtime, vars []string) error {
	for _, obj := range runtime.Objects() {
		line, err := formatObject(runtime, obj, vars)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

func formatObject(runtime *herd.Runtime, obj herd.ObjectID, vars []string) (string, error) {
	class, err := objectClass(runtime, obj)
	if err != nil {
		return "", err
	}
	names, values, err := objectVars(runtime, obj, vars)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "#%d", obj)
	if class != "" {
		fmt.Fprintf(&sb, " %s", class)
	}
	sb.WriteString(":")
	for i, name := range names {
		fmt.Fprintf(&sb, " %s=%s", name, runtime.Format(values[i]))
	}
	return sb.String(), nil
}

// writeCBOR writes every object as a canonical CBOR array of records.
func writeCBOR(w io.Writer, runtime *herd.Runtime, vars []string) error {
	records := []objectRecord{}
	for _, obj := range runtime.Objects() {
		class, err := objectClass(runtime, obj)
		if err != nil {
			return err
		}
		names, values, err := objectVars(runtime, obj, vars)
		if err != nil {
			return err
		}
		rec := objectRecord{Object: uint32(obj), Class: class, Vars: make(map[string]any, len(names))}
		for i, name := range names {
			rec.Vars[name] = runtime.Decode(values[i])
		}
		records = append(records, rec)
	}
	data, err := cborEncMode.Marshal(records)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
