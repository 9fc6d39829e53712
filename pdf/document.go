package pdf

import (
	"errors"
	"fmt"
	"os"
)

// Document holds every indirect object of a parsed PDF plus its
// trailer. Mutations happen on the object map; Write serializes the
// whole map back out.
type Document struct {
	Objects map[ObjectRef]Object
	Trailer Dict
	Version string
	maxNum  int
}

func openFile(path string) (*os.File, error) { return os.Open(path) }

// Resolve follows indirect references until a direct object remains.
func (d *Document) Resolve(o Object) Object {
	for i := 0; i < 32; i++ {
		r, ok := o.(Ref)
		if !ok {
			return o
		}
		next, ok := d.Objects[ObjectRef(r)]
		if !ok {
			return Null{}
		}
		o = next
	}
	return Null{}
}

// ResolveDict resolves o and asserts a dictionary (a stream's
// dictionary also qualifies).
func (d *Document) ResolveDict(o Object) (Dict, bool) {
	switch v := d.Resolve(o).(type) {
	case Dict:
		return v, true
	case *Stream:
		return v.Dict, true
	}
	return nil, false
}

// ResolveArray resolves o and asserts an array.
func (d *Document) ResolveArray(o Object) (Array, bool) {
	a, ok := d.Resolve(o).(Array)
	return a, ok
}

// Add registers obj under a fresh object number and returns its ref.
func (d *Document) Add(obj Object) ObjectRef {
	d.maxNum++
	ref := ObjectRef{Num: d.maxNum}
	d.Objects[ref] = obj
	return ref
}

// Put replaces the object stored at ref.
func (d *Document) Put(ref ObjectRef, obj Object) {
	d.Objects[ref] = obj
	if ref.Num > d.maxNum {
		d.maxNum = ref.Num
	}
}

// Catalog returns the document catalog dictionary and its ref.
func (d *Document) Catalog() (Dict, ObjectRef, error) {
	ref, ok := d.Trailer.Ref("Root")
	if !ok {
		return nil, ObjectRef{}, errors.New("pdf: trailer has no Root")
	}
	dict, ok := d.ResolveDict(Ref(ref))
	if !ok {
		return nil, ObjectRef{}, errors.New("pdf: catalog is not a dictionary")
	}
	return dict, ref, nil
}

// Info returns the Info dictionary, creating it when absent.
func (d *Document) Info() Dict {
	if ref, ok := d.Trailer.Ref("Info"); ok {
		if dict, ok := d.ResolveDict(Ref(ref)); ok {
			return dict
		}
	}
	info := Dict{}
	ref := d.Add(info)
	if d.Trailer == nil {
		d.Trailer = Dict{}
	}
	d.Trailer["Info"] = Ref(ref)
	return info
}

// Page is one leaf of the page tree with inherited attributes applied.
type Page struct {
	Index     int
	Ref       ObjectRef
	Dict      Dict
	Resources Dict
}

// Pages walks the page tree in order.
func (d *Document) Pages() ([]Page, error) {
	catalog, _, err := d.Catalog()
	if err != nil {
		return nil, err
	}
	rootRef, ok := catalog.Ref("Pages")
	if !ok {
		return nil, errors.New("pdf: catalog has no Pages")
	}
	var pages []Page
	var walk func(ref ObjectRef, inherited Dict, depth int) error
	walk = func(ref ObjectRef, inherited Dict, depth int) error {
		if depth > 64 {
			return errors.New("pdf: page tree too deep")
		}
		node, ok := d.ResolveDict(Ref(ref))
		if !ok {
			return fmt.Errorf("pdf: page tree node %s is not a dictionary", ref)
		}
		resources := inherited
		if res, ok := d.ResolveDict(node["Resources"]); ok {
			resources = res
		}
		switch node.Name("Type") {
		case "Pages":
			kids, ok := d.ResolveArray(node["Kids"])
			if !ok {
				return fmt.Errorf("pdf: Pages node %s has no Kids", ref)
			}
			for _, kid := range kids {
				kidRef, ok := kid.(Ref)
				if !ok {
					return errors.New("pdf: page tree kid is not a reference")
				}
				if err := walk(ObjectRef(kidRef), resources, depth+1); err != nil {
					return err
				}
			}
		case "Page":
			pages = append(pages, Page{
				Index:     len(pages),
				Ref:       ref,
				Dict:      node,
				Resources: resources,
			})
		default:
			return fmt.Errorf("pdf: page tree node %s has type %q", ref, node.Name("Type"))
		}
		return nil
	}
	if err := walk(rootRef, nil, 0); err != nil {
		return nil, err
	}
	return pages, nil
}

// StreamData returns the decoded bytes of a stream.
func (d *Document) StreamData(s *Stream) ([]byte, error) {
	return decodeStream(s, d.Resolve)
}

// PageContents concatenates and decodes the page's content streams.
// Multiple streams are joined with a newline, matching how viewers
// treat a Contents array as one logical stream.
func (d *Document) PageContents(p Page) ([]byte, error) {
	var blobs [][]byte
	collect := func(o Object) error {
		s, ok := d.Resolve(o).(*Stream)
		if !ok {
			return errors.New("pdf: content entry is not a stream")
		}
		data, err := d.StreamData(s)
		if err != nil {
			return err
		}
		blobs = append(blobs, data)
		return nil
	}
	switch contents := d.Resolve(p.Dict["Contents"]).(type) {
	case *Stream:
		if err := collect(contents); err != nil {
			return nil, err
		}
	case Array:
		for _, item := range contents {
			if err := collect(item); err != nil {
				return nil, err
			}
		}
	case Null:
		return nil, nil
	default:
		return nil, errors.New("pdf: page has no usable Contents")
	}
	var joined []byte
	for i, b := range blobs {
		if i > 0 {
			joined = append(joined, '\n')
		}
		joined = append(joined, b...)
	}
	return joined, nil
}

// SetPageContents replaces the page's content with data, stored as a
// single Flate-compressed stream. Length is recomputed at write time.
func (d *Document) SetPageContents(p Page, data []byte) {
	stream := &Stream{
		Dict: Dict{"Filter": Name("FlateDecode")},
		Data: flateEncode(data),
	}
	if ref, ok := p.Dict.Ref("Contents"); ok {
		d.Put(ref, stream)
		return
	}
	ref := d.Add(stream)
	p.Dict["Contents"] = Ref(ref)
}

// Annotations returns the resolved annotation dictionaries of a page
// together with their refs. Direct (non-indirect) annotations get a
// zero ref.
func (d *Document) Annotations(p Page) []AnnotRef {
	arr, ok := d.ResolveArray(p.Dict["Annots"])
	if !ok {
		return nil
	}
	var out []AnnotRef
	for _, item := range arr {
		var ref ObjectRef
		if r, ok := item.(Ref); ok {
			ref = ObjectRef(r)
		}
		if dict, ok := d.ResolveDict(item); ok {
			out = append(out, AnnotRef{Ref: ref, Dict: dict})
		}
	}
	return out
}

// AnnotRef pairs an annotation dictionary with its object ref.
type AnnotRef struct {
	Ref  ObjectRef
	Dict Dict
}
