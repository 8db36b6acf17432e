// Copyright (C) 2025 AppForge AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package planner

import "encoding/json"

// selectionSchema constrains the template-selection inference call.
// selectedTemplateName is nullable on purpose: "nothing fits" is a valid
// answer and must be expressible inside the schema, not smuggled through
// a made-up name.
var selectionSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "selectedTemplateName": {"type": ["string", "null"]},
    "reasoning": {"type": "string"},
    "useCase": {"type": ["string", "null"], "enum": ["saas", "dashboard", "game", "landing", "ecommerce", "blog", "other", null]},
    "complexity": {"type": ["string", "null"], "enum": ["simple", "moderate", "complex", null]},
    "styleSelection": {"type": ["string", "null"], "enum": ["minimal", "playful", "brutalist", "retro", "elegant", "standard", null]},
    "projectName": {"type": "string"}
  },
  "required": ["selectedTemplateName", "reasoning", "projectName"]
}`)

// blueprintSchema constrains the planning call. The orchestration core
// only depends on title, description, and fileList; the rest rides along
// for persistence and client display.
var blueprintSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "title": {"type": "string"},
    "description": {"type": "string"},
    "fileList": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "path": {"type": "string"},
          "purpose": {"type": "string"}
        },
        "required": ["path"]
      }
    },
    "features": {"type": "array", "items": {"type": "string"}},
    "architectureNotes": {"type": "string"}
  },
  "required": ["title", "description", "fileList"]
}`)

// unitSchema constrains a single file-generation unit call.
var unitSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "files": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "file_path": {"type": "string"},
          "file_contents": {"type": "string"},
          "explanation": {"type": "string"}
        },
        "required": ["file_path", "file_contents"]
      }
    }
  },
  "required": ["files"]
}`)
