// fastview pushes element updates to browser pages over a websocket: the page looks up
// each element by id and applies the ops, so the server never re-renders the page.
package fastview

// EleUpdate is an element identifier and a set of operations to apply to its attributes/content.
type EleUpdate struct {
	// The id by which to find the element
	EleId string
	// Op keys are attrib keys or 'textContent', values are the strings to which these are set.
	// Example: ('src','data:...') means 'set attribute src'. 'textContent' is a reserved key:
	// ('textContent','Score: 12') means 'set ele.textContent to Score: 12'.
	Ops []Op
}

// Op is a key and value. For example an html attribute and its new value.
type Op struct {
	Key   string
	Value string
}

// TextContent is the reserved op key for replacing an element's text.
const TextContent = "textContent"

// SetText returns an update replacing the text of element id.
func SetText(id, text string) EleUpdate {
	return EleUpdate{EleId: id, Ops: []Op{{Key: TextContent, Value: text}}}
}

// SetAttr returns an update setting one attribute of element id.
func SetAttr(id, key, value string) EleUpdate {
	return EleUpdate{EleId: id, Ops: []Op{{Key: key, Value: value}}}
}
