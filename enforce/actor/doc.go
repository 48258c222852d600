// Actors (community members) and the directory used to look them up by ID or enumerate them.
package actor
