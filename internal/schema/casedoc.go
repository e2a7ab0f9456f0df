package schema

// caseDocumentYAML is the built-in structural schema for the formal case
// model produced by the case-model stage. It gates that stage's output
// before the narrative stages consume it.
const caseDocumentYAML = `
CASE:
  kind: object
  required: true
  fields:
    id:
      kind: string
      required: true
    title:
      kind: string
      required: true
    premise:
      kind: string
      required: true
    setting:
      kind: object
      required: true
      fields:
        location: {kind: string, required: true}
        era: {kind: string, required: true}
    cast:
      kind: array
      required: true
      items:
        kind: object
        required: true
        fields:
          name: {kind: string, required: true}
          role:
            kind: string
            required: true
            allowed: [detective, victim, suspect, witness]
          motive: {kind: string}
          alibi: {kind: string}
    clues:
      kind: array
      required: true
      items:
        kind: object
        required: true
        fields:
          id: {kind: string, required: true}
          description: {kind: string, required: true}
          discovery_scene: {kind: number}
          discriminating: {kind: boolean}
    solution:
      kind: object
      required: true
      fields:
        culprit: {kind: string, required: true}
        method: {kind: string, required: true}
        evidence_chain:
          kind: array
          required: true
          items:
            kind: string
            required: true
`

var caseDocument = MustParseDocument([]byte(caseDocumentYAML))

// CaseDocument returns the built-in case-model schema.
func CaseDocument() *Document {
	return caseDocument
}
