package model

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
)

const partAtomNS = "urn:schemas-autodesk-com:partatom"

const (
	schemeCategory     = "adsk:revit:grouping"
	schemeHostCategory = "adsk:revit:hostcategory"
)

type atomEntry struct {
	XMLName    xml.Name       `xml:"entry"`
	Title      string         `xml:"title"`
	Categories []atomCategory `xml:"category"`
	Family     *atomFamily    `xml:"urn:schemas-autodesk-com:partatom family"`
	Features   []atomFeature  `xml:"urn:schemas-autodesk-com:partatom features>feature"`
}

type atomCategory struct {
	Term   string `xml:"term"`
	Scheme string `xml:"scheme"`
}

type atomFamily struct {
	Type string `xml:"type,attr"`
}

type atomFeature struct {
	Title  string      `xml:"urn:schemas-autodesk-com:partatom title"`
	Groups []atomGroup `xml:"urn:schemas-autodesk-com:partatom group"`
}

type atomGroup struct {
	Title  string      `xml:"urn:schemas-autodesk-com:partatom title"`
	Params []atomParam `xml:",any"`
}

type atomParam struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

func (f *File) parsePartAtom(data []byte) error {
	data = bytes.TrimRight(data, "\x00")
	var e atomEntry
	if err := xml.Unmarshal(data, &e); err != nil {
		return fmt.Errorf("decoding: %w", err)
	}

	f.IsFamily = e.Family != nil
	for _, c := range e.Categories {
		switch c.Scheme {
		case schemeCategory:
			if f.CategoryName == "" {
				f.CategoryName = c.Term
			}
		case schemeHostCategory:
			if f.HostCategoryName == "" {
				f.HostCategoryName = c.Term
			}
		}
	}

	for _, feat := range e.Features {
		for _, g := range feat.Groups {
			for _, p := range g.Params {
				if p.XMLName.Space == partAtomNS {
					continue
				}
				key := strings.ReplaceAll(p.XMLName.Local, "_", " ")
				if _, dup := f.ProjectInfo[key]; !dup {
					f.ProjectInfo[key] = strings.TrimSpace(p.Value)
				}
			}
		}
	}
	return nil
}
