/*
Package queue provides the read-only views over coordination state:
filtered work listings, queue depth, the operational dashboard, and the
health score.

Views never mutate. Each query takes one consistent snapshot from the
state store and aggregates on the private copy, so dashboards and
monitors can poll without contending with claim traffic for longer
than a read.
*/
package queue
