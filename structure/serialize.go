package structure

import (
	"fmt"

	"github.com/wudi/pdftag/pdf"
)

// Serialize materializes the tree as StructElem objects in doc and
// returns the StructTreeRoot ref. Pages gain /StructParents keys, the
// parent tree becomes the /ParentTree number tree, and annotation kids
// become OBJR dictionaries with matching /StructParent entries.
func (t *Tree) Serialize(doc *pdf.Document, pages []pdf.Page, parentTree [][]*Element) (pdf.ObjectRef, error) {
	if err := t.Validate(); err != nil {
		return pdf.ObjectRef{}, err
	}
	if len(parentTree) > len(pages) {
		return pdf.ObjectRef{}, fmt.Errorf("structure: parent tree covers %d pages, document has %d", len(parentTree), len(pages))
	}

	refs := make(map[*Element]pdf.ObjectRef)
	t.Walk(func(e *Element) {
		refs[e] = doc.Add(pdf.Dict{})
	})
	rootRef := doc.Add(pdf.Dict{})

	var nums pdf.Array
	for page, row := range parentTree {
		if len(row) == 0 {
			continue
		}
		arr := make(pdf.Array, len(row))
		for mcid, owner := range row {
			arr[mcid] = pdf.Ref(refs[owner])
		}
		nums = append(nums, pdf.Integer(page), arr)
		pages[page].Dict["StructParents"] = pdf.Integer(page)
	}
	nextKey := len(pages)

	var serr error
	t.Walk(func(e *Element) {
		if serr != nil {
			return
		}
		dict := pdf.Dict{
			"Type": pdf.Name("StructElem"),
			"S":    pdf.Name(e.S),
		}
		if e.Parent != nil {
			dict["P"] = pdf.Ref(refs[e.Parent])
		} else {
			dict["P"] = pdf.Ref(rootRef)
		}
		if e.Alt != "" {
			dict["Alt"] = pdf.NewString(e.Alt)
		}
		if e.ActualText != "" {
			dict["ActualText"] = pdf.NewString(e.ActualText)
		}

		elemPage := -1
		var kids pdf.Array
		for _, kid := range e.Kids {
			switch {
			case kid.Element != nil:
				kids = append(kids, pdf.Ref(refs[kid.Element]))
			case kid.Annot != (pdf.ObjectRef{}):
				if kid.Page < 0 || kid.Page >= len(pages) {
					serr = fmt.Errorf("structure: annotation kid on page %d out of range", kid.Page)
					return
				}
				kids = append(kids, pdf.Dict{
					"Type": pdf.Name("OBJR"),
					"Obj":  pdf.Ref(kid.Annot),
					"Pg":   pdf.Ref(pages[kid.Page].Ref),
				})
				if annot, ok := doc.ResolveDict(pdf.Ref(kid.Annot)); ok {
					annot["StructParent"] = pdf.Integer(nextKey)
					nums = append(nums, pdf.Integer(nextKey), pdf.Ref(refs[e]))
					nextKey++
				}
			case kid.MCID >= 0:
				if kid.Page < 0 || kid.Page >= len(pages) {
					serr = fmt.Errorf("structure: content kid on page %d out of range", kid.Page)
					return
				}
				if elemPage == -1 {
					elemPage = kid.Page
				}
				if kid.Page == elemPage {
					kids = append(kids, pdf.Integer(kid.MCID))
				} else {
					kids = append(kids, pdf.Dict{
						"Type": pdf.Name("MCR"),
						"Pg":   pdf.Ref(pages[kid.Page].Ref),
						"MCID": pdf.Integer(kid.MCID),
					})
				}
			}
		}
		if elemPage >= 0 {
			dict["Pg"] = pdf.Ref(pages[elemPage].Ref)
		}
		if len(kids) == 1 {
			dict["K"] = kids[0]
		} else if len(kids) > 0 {
			dict["K"] = kids
		}
		doc.Put(refs[e], dict)
	})
	if serr != nil {
		return pdf.ObjectRef{}, serr
	}

	ptRef := doc.Add(pdf.Dict{"Nums": nums})
	doc.Put(rootRef, pdf.Dict{
		"Type":              pdf.Name("StructTreeRoot"),
		"K":                 pdf.Ref(refs[t.Root]),
		"ParentTree":        pdf.Ref(ptRef),
		"ParentTreeNextKey": pdf.Integer(nextKey),
	})
	return rootRef, nil
}
