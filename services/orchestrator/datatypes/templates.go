// Copyright (C) 2025 AppForge AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// TemplateDescription explains when a template should be selected and how
// it is meant to be used. Both strings come verbatim from the catalog.
type TemplateDescription struct {
	Selection string `json:"selection"`
	Usage     string `json:"usage"`
}

// TemplateDescriptor is one entry in the template catalog listing.
// Read-only: the orchestrator never mutates catalog data.
type TemplateDescriptor struct {
	Name        string              `json:"name"`
	Language    string              `json:"language"`
	Frameworks  []string            `json:"frameworks"`
	Description TemplateDescription `json:"description"`
}

// TemplateFile is a single file shipped with a starting template.
type TemplateFile struct {
	Path     string `json:"path"`
	Contents string `json:"contents"`
}

// TemplateDetails is the full payload for a chosen template: the
// descriptor name plus every file the template starts from.
type TemplateDetails struct {
	Name  string         `json:"name"`
	Files []TemplateFile `json:"files"`
}

// UseCase classifies the kind of application the user asked for.
type UseCase string

const (
	UseCaseSaaS      UseCase = "saas"
	UseCaseDashboard UseCase = "dashboard"
	UseCaseGame      UseCase = "game"
	UseCaseLanding   UseCase = "landing"
	UseCaseEcommerce UseCase = "ecommerce"
	UseCaseBlog      UseCase = "blog"
	UseCaseOther     UseCase = "other"
)

// Complexity estimates how much work the requested app implies.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// StyleSelection is the visual direction derived from the user query.
type StyleSelection string

const (
	StyleMinimal  StyleSelection = "minimal"
	StylePlayful  StyleSelection = "playful"
	StyleBrutal   StyleSelection = "brutalist"
	StyleRetro    StyleSelection = "retro"
	StyleElegant  StyleSelection = "elegant"
	StyleStandard StyleSelection = "standard"
)

// TemplateSelection is the outcome of the template-selection inference
// call. Template == "" is a valid terminal outcome meaning no suitable
// template exists; callers must treat it as a clean failure, never a crash.
type TemplateSelection struct {
	// Template is the chosen catalog name, or empty when nothing fits.
	// Always validated against the input catalog; a model hallucinating
	// a name that is not in the catalog degrades to empty.
	Template string `json:"selectedTemplateName"`

	// Reasoning is a human-readable explanation, also populated on
	// degraded selections so the failure is explainable.
	Reasoning string `json:"reasoning"`

	UseCase    UseCase        `json:"useCase,omitempty"`
	Complexity Complexity     `json:"complexity,omitempty"`
	Style      StyleSelection `json:"styleSelection,omitempty"`

	// ProjectName is a short, url-safe name derived from the query.
	ProjectName string `json:"projectName"`
}
