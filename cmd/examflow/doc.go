// Command examflow drives simulated exam-grading workflows and inspects the
// workflows and tasks recorded in the local store.
//
//	examflow run --exam math-101 --students 30 --sheets 30
//	examflow workflow list
//	examflow workflow show <id>
//	examflow tasks list --status failed
//	examflow config init
package main
