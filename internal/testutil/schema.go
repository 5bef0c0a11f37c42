package testutil

// LabelSchema is a minimal draft-04 schema accepting {"label": <string>}.
var LabelSchema = []byte(`{
  "$schema": "http://json-schema.org/draft-04/schema#",
  "title": "label",
  "type": "object",
  "properties": {
    "label": {
      "type": "string"
    }
  },
  "required": ["label"]
}`)

// BoundingBoxSchema captures a bounding box and label in an image.
var BoundingBoxSchema = []byte(`{
  "$schema": "http://json-schema.org/draft-04/schema#",
  "title": "bounding-box",
  "description": "Captures a bounding box and label in an image.",
  "definitions": {
    "point": {
      "type": "object",
      "properties": {
        "x": {"type": "number"},
        "y": {"type": "number"}
      },
      "required": ["x", "y"]
    }
  },
  "type": "object",
  "properties": {
    "label": {"type": "string"},
    "points": {
      "type": "array",
      "items": {"$ref": "#/definitions/point"},
      "minItems": 2,
      "maxItems": 2
    }
  },
  "required": ["points", "label"]
}`)
