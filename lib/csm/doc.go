// Package csm implements the CSM ("custom socket message") text format used
// to exchange structured values between comms clients and servers.
//
// A message is a sequence of records. Every record carries a field name, the
// printed value and an explicit type tag, and is terminated by a fixed
// delimiter:
//
//	{name:value<tag>}*%*
//
// Decoding is driven entirely by the tag, never by inspecting the value text:
//
//	int       -> int64
//	float     -> float64
//	str       -> string (verbatim)
//	bool      -> bool ("True" / "False")
//	NoneType  -> nil
//	bytes     -> []byte (hex text on the wire)
//	list      -> List
//	tuple     -> Tuple
//
// Sequences are printed in bracket (list) or paren (tuple) form with elements
// joined by ", ". Elements are classified by their printed form: integers,
// floats, True/False, None, quoted strings, b'<hex>' byte strings and nested
// sequences.
//
// Example:
//
//	text, _ := csm.Encode(csm.Message{}.Set("a", 1).Set("v", csm.List{1, 2, 3}))
//	// {a:1<int>}*%*{v:[1, 2, 3]<list>}*%*
//
//	fields, err := csm.Decode(text)
//	// fields["a"] == int64(1), fields["v"] == csm.List{int64(1), int64(2), int64(3)}
//
// Limitations: the format has no escaping. Field names must not contain ':',
// and no value may contain the delimiter. Encode refuses such records with
// ErrInvalidRecord. Received text is not checked the same way: a record like
// {a:b:x<str>} decodes as name "a" with value "b:x".
package csm
