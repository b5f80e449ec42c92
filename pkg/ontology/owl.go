package ontology

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
)

// OWL (RDF/XML) export. Concepts become owl:Class, properties become
// owl:DatatypeProperty with annotations carrying the bound table and
// column, relationships become owl:ObjectProperty.

const owlBaseIRI = "http://sqlsage.io/ontology"

type owlRDF struct {
	XMLName   xml.Name `xml:"rdf:RDF"`
	XMLNSRDF  string   `xml:"xmlns:rdf,attr"`
	XMLNSOWL  string   `xml:"xmlns:owl,attr"`
	XMLNSRDFS string   `xml:"xmlns:rdfs,attr"`
	XMLBase   string   `xml:"xml:base,attr"`

	Ontology   owlOntology       `xml:"owl:Ontology"`
	Classes    []owlClass        `xml:"owl:Class"`
	DataProps  []owlDataProperty `xml:"owl:DatatypeProperty"`
	ObjectProp []owlObjectProp   `xml:"owl:ObjectProperty"`
}

type owlOntology struct {
	About   string `xml:"rdf:about,attr"`
	Comment string `xml:"rdfs:comment,omitempty"`
}

type owlClass struct {
	About   string   `xml:"rdf:about,attr"`
	Label   string   `xml:"rdfs:label"`
	Comment string   `xml:"rdfs:comment,omitempty"`
	SeeAlso []string `xml:"rdfs:seeAlso,omitempty"` // realizing tables
}

type owlDataProperty struct {
	About   string `xml:"rdf:about,attr"`
	Label   string `xml:"rdfs:label"`
	Comment string `xml:"rdfs:comment,omitempty"`
	Domain  owlRef `xml:"rdfs:domain"`
	Table   string `xml:"rdfs:isDefinedBy>table"`
	Column  string `xml:"rdfs:isDefinedBy>column"`
}

type owlObjectProp struct {
	About  string `xml:"rdf:about,attr"`
	Label  string `xml:"rdfs:label"`
	Domain owlRef `xml:"rdfs:domain"`
	Range  owlRef `xml:"rdfs:range"`
}

type owlRef struct {
	Resource string `xml:"rdf:resource,attr"`
}

// MarshalOWL renders the ontology as RDF/XML.
func MarshalOWL(o *Ontology) ([]byte, error) {
	doc := owlRDF{
		XMLNSRDF:  "http://www.w3.org/1999/02/22-rdf-syntax-ns#",
		XMLNSOWL:  "http://www.w3.org/2002/07/owl#",
		XMLNSRDFS: "http://www.w3.org/2000/01/rdf-schema#",
		XMLBase:   owlBaseIRI,
		Ontology: owlOntology{
			About:   owlBaseIRI + "/" + o.ConnectionID,
			Comment: fmt.Sprintf("Generated from database %s", o.Database),
		},
	}

	for _, c := range o.Concepts {
		doc.Classes = append(doc.Classes, owlClass{
			About:   "#" + c.Name,
			Label:   c.Name,
			Comment: c.Description,
			SeeAlso: c.Tables,
		})
	}

	for _, p := range o.Properties {
		doc.DataProps = append(doc.DataProps, owlDataProperty{
			About:   "#" + p.Concept + "." + p.PropertyName,
			Label:   p.PropertyName,
			Comment: p.SemanticMeaning,
			Domain:  owlRef{Resource: "#" + p.Concept},
			Table:   p.Table,
			Column:  p.Column,
		})
	}

	for _, r := range o.Relationships {
		doc.ObjectProp = append(doc.ObjectProp, owlObjectProp{
			About:  "#" + r.FromConcept + "_" + r.Type + "_" + r.ToConcept,
			Label:  r.Type,
			Domain: owlRef{Resource: "#" + r.FromConcept},
			Range:  owlRef{Resource: "#" + r.ToConcept},
		})
	}

	data, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal owl: %w", err)
	}
	return append([]byte(xml.Header), data...), nil
}

// SaveOWL writes the ontology to dir as
// {connection_id}_ontology_{timestamp}.owl and returns the file path.
func SaveOWL(dir string, o *Ontology) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create ontology dir: %w", err)
	}

	data, err := MarshalOWL(o)
	if err != nil {
		return "", err
	}

	name := fmt.Sprintf("%s_ontology_%s.owl",
		sanitizeFilename(o.ConnectionID),
		o.GeneratedAt.UTC().Format("20060102T150405Z"))
	path := filepath.Join(dir, name)

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write owl file: %w", err)
	}
	return path, nil
}
