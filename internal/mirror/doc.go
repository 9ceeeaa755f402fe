// Package mirror keeps plain in-process objects in sync with OPC UA object nodes.
//
// An Object is bound to exactly one node of class Object. At bind time it indexes
// the node's direct children by browse name, subscribes to the ones that are
// properties or variables and routes every data change to a local field of the
// same name. Application code reads and assigns fields locally and pushes them
// back to the server with Write or WriteField.
//
// Nested objects are not followed. Types that embed an Object decide which of
// their Object children deserve a mirror of their own, see package device.
package mirror
